package index

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/index/memory"
	"github.com/markdave123-py/documind/internal/models"
)

const dim = 3

func chunk(doc string, i int, vec ...float32) models.Chunk {
	return models.Chunk{
		ID:         fmt.Sprintf("%s-%d", doc, i),
		DocumentID: doc,
		Index:      i,
		Text:       fmt.Sprintf("%s chunk %d", doc, i),
		Embedding:  vec,
	}
}

// flakyStore fails the upsert call number failOn (1-based) and counts batches.
type flakyStore struct {
	*memory.Store
	failOn  int
	batches []int
	leak    bool
}

func (f *flakyStore) Upsert(ctx context.Context, chunks []models.Chunk) error {
	f.batches = append(f.batches, len(chunks))
	if len(f.batches) == f.failOn {
		return errors.New("connection reset")
	}
	return f.Store.Upsert(ctx, chunks)
}

func (f *flakyStore) Search(ctx context.Context, v []float32, doc string, limit int) ([]models.SearchHit, error) {
	if f.leak {
		return f.Store.Search(ctx, v, "", limit)
	}
	return f.Store.Search(ctx, v, doc, limit)
}

func newGateway(t *testing.T, store core.IndexStore, batch int) *Gateway {
	t.Helper()
	g, err := NewGateway(store, Options{Dimension: dim, BatchSize: batch})
	require.NoError(t, err)
	require.NoError(t, g.EnsureIndex(context.Background()))
	return g
}

func TestUpsertBatchesAndSearchOrdering(t *testing.T) {
	store := &flakyStore{Store: memory.New(dim)}
	g := newGateway(t, store, 2)
	ctx := context.Background()

	chunks := []models.Chunk{
		chunk("a", 0, 1, 0, 0),
		chunk("a", 1, 0.9, 0.1, 0),
		chunk("a", 2, 1, 0, 0), // ties with chunk 0, inserted later
		chunk("a", 3, 0, 1, 0),
		chunk("a", 4, 0, 0, 1),
	}
	require.NoError(t, g.Upsert(ctx, "a", chunks))
	assert.Equal(t, []int{2, 2, 1}, store.batches)

	hits, err := g.Search(ctx, []float32{1, 0, 0}, "a", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 0, hits[0].Chunk.Index)
	assert.Equal(t, 2, hits[1].Chunk.Index)
	assert.Equal(t, 1, hits[2].Chunk.Index)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.5)
	}

	hits, err = g.Search(ctx, []float32{1, 0, 0}, "a", 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestUpsertBatchFailureAborts(t *testing.T) {
	store := &flakyStore{Store: memory.New(dim), failOn: 2}
	g := newGateway(t, store, 2)

	err := g.Upsert(context.Background(), "a", []models.Chunk{
		chunk("a", 0, 1, 0, 0), chunk("a", 1, 1, 0, 0), chunk("a", 2, 1, 0, 0),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrIndexStore)
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, []int{2, 2}, store.batches)
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	g := newGateway(t, memory.New(dim), 10)

	err := g.Upsert(context.Background(), "a", []models.Chunk{chunk("a", 0, 1, 0)})
	assert.ErrorIs(t, err, core.ErrEmbeddingDimensionMismatch)

	err = g.Upsert(context.Background(), "a", []models.Chunk{chunk("b", 0, 1, 0, 0)})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestSearchFiltersByDocument(t *testing.T) {
	store := &flakyStore{Store: memory.New(dim)}
	g := newGateway(t, store, 10)
	ctx := context.Background()

	require.NoError(t, g.Upsert(ctx, "a", []models.Chunk{chunk("a", 0, 1, 0, 0)}))
	require.NoError(t, g.Upsert(ctx, "b", []models.Chunk{chunk("b", 0, 1, 0, 0), chunk("b", 1, 0.8, 0.2, 0)}))

	hits, err := g.Search(ctx, []float32{1, 0, 0}, "b", 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "b", h.Chunk.DocumentID)
	}

	all, err := g.Search(ctx, []float32{1, 0, 0}, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// a backend that ignores the filter must not leak other documents
	store.leak = true
	hits, err = g.Search(ctx, []float32{1, 0, 0}, "a", 10, 0)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, "a", h.Chunk.DocumentID)
	}
}

func TestDeleteByDocument(t *testing.T) {
	g := newGateway(t, memory.New(dim), 10)
	ctx := context.Background()

	require.NoError(t, g.Upsert(ctx, "a", []models.Chunk{chunk("a", 0, 1, 0, 0), chunk("a", 1, 0, 1, 0)}))
	require.NoError(t, g.Upsert(ctx, "b", []models.Chunk{chunk("b", 0, 1, 0, 0)}))

	n, err := g.DeleteByDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = g.DeleteByDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	hits, err := g.Search(ctx, []float32{1, 0, 0}, "a", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = g.Search(ctx, []float32{1, 0, 0}, "b", 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestUpsertIsIdempotentPerChunkID(t *testing.T) {
	store := memory.New(dim)
	g := newGateway(t, store, 10)
	ctx := context.Background()

	require.NoError(t, g.Upsert(ctx, "a", []models.Chunk{chunk("a", 0, 1, 0, 0)}))
	require.NoError(t, g.Upsert(ctx, "a", []models.Chunk{chunk("a", 0, 0, 1, 0)}))
	assert.Equal(t, 1, store.Count("a"))
}

func TestSearchRejectsWrongQueryDimension(t *testing.T) {
	g := newGateway(t, memory.New(dim), 10)
	_, err := g.Search(context.Background(), []float32{1}, "", 5, 0)
	assert.ErrorIs(t, err, core.ErrEmbeddingDimensionMismatch)
}
