package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

func TestCreateGetReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := &models.Document{ID: "d1", FileName: "a.pdf", Status: models.StateUploading, Metadata: map[string]string{"k": "v"}}
	require.NoError(t, s.Create(ctx, doc))
	doc.FileName = "mutated.pdf"

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", got.FileName)
	assert.False(t, got.CreatedAt.IsZero())

	got.Metadata["k"] = "changed"
	again, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metadata["k"])

	assert.ErrorIs(t, s.Create(ctx, &models.Document{ID: "d1"}), core.ErrInvalidInput)
	assert.ErrorIs(t, s.Create(ctx, &models.Document{}), core.ErrInvalidInput)
}

func TestUpdateIsAtomicAndAbortable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &models.Document{ID: "d1", Status: models.StateUploading}))

	boom := errors.New("no")
	_, err := s.Update(ctx, "d1", func(d *models.Document) error {
		d.Status = models.StateFailed
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, _ := s.Get(ctx, "d1")
	assert.Equal(t, models.StateUploading, got.Status)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "d1", func(d *models.Document) error {
				d.ChunkCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	got, _ = s.Get(ctx, "d1")
	assert.Equal(t, 50, got.ChunkCount)

	_, err = s.Update(ctx, "missing", func(*models.Document) error { return nil })
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Create(ctx, &models.Document{ID: fmt.Sprintf("d%d", i), CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	docs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"d2", "d1", "d0"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})
}

func TestDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &models.Document{ID: "d1"}))
	require.NoError(t, s.Delete(ctx, "d1"))

	_, err := s.Get(ctx, "d1")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "d1"), core.ErrDocumentNotFound)
}
