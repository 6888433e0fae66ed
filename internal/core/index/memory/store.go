// Package memory is an in-process vector index used for development and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

var _ core.IndexStore = (*Store)(nil)

type entry struct {
	chunk models.Chunk
	seq   int64
}

// Store keeps chunks in a map and scores them by brute-force cosine similarity.
type Store struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]*entry
	// byDoc indexes chunk ids per document for deletes and filtered search.
	byDoc   map[string]map[string]struct{}
	nextSeq int64
}

func New(dim int) *Store {
	return &Store{
		dim:     dim,
		entries: make(map[string]*entry),
		byDoc:   make(map[string]map[string]struct{}),
	}
}

func (s *Store) EnsureIndex(context.Context) error { return nil }

func (s *Store) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range chunks {
		if len(chunks[i].Embedding) != s.dim {
			return fmt.Errorf("chunk %s has dimension %d, index expects %d", chunks[i].ID, len(chunks[i].Embedding), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range chunks {
		ch.Embedding = append([]float32(nil), ch.Embedding...)
		if e, ok := s.entries[ch.ID]; ok {
			e.chunk = ch
			continue
		}
		s.nextSeq++
		s.entries[ch.ID] = &entry{chunk: ch, seq: s.nextSeq}
		ids, ok := s.byDoc[ch.DocumentID]
		if !ok {
			ids = make(map[string]struct{})
			s.byDoc[ch.DocumentID] = ids
		}
		ids[ch.ID] = struct{}{}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, documentID string, limit int) ([]models.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(vector), s.dim)
	}

	s.mu.RLock()
	var candidates []*entry
	if documentID != "" {
		for id := range s.byDoc[documentID] {
			candidates = append(candidates, s.entries[id])
		}
	} else {
		candidates = make([]*entry, 0, len(s.entries))
		for _, e := range s.entries {
			candidates = append(candidates, e)
		}
	}
	hits := make([]models.SearchHit, 0, len(candidates))
	for _, e := range candidates {
		ch := e.chunk
		ch.Embedding = nil
		hits = append(hits, models.SearchHit{Chunk: ch, Score: cosine(vector, e.chunk.Embedding), Seq: e.seq})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Seq < hits[j].Seq
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byDoc[documentID]
	for id := range ids {
		delete(s.entries, id)
	}
	delete(s.byDoc, documentID)
	return len(ids), nil
}

// Count returns the number of stored chunks, optionally for one document.
func (s *Store) Count(documentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if documentID == "" {
		return len(s.entries)
	}
	return len(s.byDoc[documentID])
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
