// Package docstore keeps the registry of uploaded documents and their job state.
package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

var _ core.DocumentStore = (*MemoryStore)(nil)

// MemoryStore holds documents in process memory. All reads return copies so
// callers never race with a worker updating the same record.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*models.Document
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*models.Document), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("%w: document id is required", core.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("%w: document %s already exists", core.ErrInvalidInput, doc.ID)
	}
	c := doc.Clone()
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.docs[c.ID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return d.Clone(), nil
}

// List returns every document, newest upload first.
func (s *MemoryStore) List(_ context.Context) ([]*models.Document, error) {
	s.mu.RLock()
	out := make([]*models.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*models.Document) error) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	next := d.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = d.ID
	next.CreatedAt = d.CreatedAt
	next.UpdatedAt = s.now()
	s.docs[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	delete(s.docs, id)
	return nil
}
