package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

type Options struct {
	Dimension int
	// BatchSize bounds how many chunks go to the backend per upsert call.
	BatchSize int
	Timeout   time.Duration
}

// Gateway enforces dimension, batching, ordering and filtering rules on top of a
// vector database backend.
type Gateway struct {
	store core.IndexStore
	opts  Options
}

func NewGateway(store core.IndexStore, opts Options) (*Gateway, error) {
	if store == nil {
		return nil, fmt.Errorf("index store is nil")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("index dimension must be positive, got %d", opts.Dimension)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Gateway{store: store, opts: opts}, nil
}

func (g *Gateway) EnsureIndex(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	if err := g.store.EnsureIndex(cctx); err != nil {
		return core.ProviderError(core.ErrIndexStore, "ensure index", err)
	}
	return nil
}

// Upsert writes chunks in batches. Any failing batch aborts the whole call; chunks from
// earlier batches may already be stored and are the caller's to clean up.
func (g *Gateway) Upsert(ctx context.Context, documentID string, chunks []models.Chunk) error {
	for i := range chunks {
		if chunks[i].DocumentID != documentID {
			return fmt.Errorf("%w: chunk %d belongs to %q, not %q", core.ErrInvalidInput, i, chunks[i].DocumentID, documentID)
		}
		if len(chunks[i].Embedding) != g.opts.Dimension {
			return &core.DimensionMismatchError{Expected: g.opts.Dimension, Got: len(chunks[i].Embedding), Position: i}
		}
	}

	for start := 0; start < len(chunks); start += g.opts.BatchSize {
		end := min(start+g.opts.BatchSize, len(chunks))
		if err := g.upsertBatch(ctx, chunks[start:end]); err != nil {
			return core.ProviderError(core.ErrIndexStore, fmt.Sprintf("upsert batch %d-%d", start, end), err)
		}
	}
	return nil
}

func (g *Gateway) upsertBatch(ctx context.Context, batch []models.Chunk) error {
	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	return g.store.Upsert(cctx, batch)
}

// Search returns hits with score >= minScore in non-increasing score order, ties broken
// by insertion order. A non-empty documentID restricts hits to that document.
func (g *Gateway) Search(ctx context.Context, vector []float32, documentID string, limit int, minScore float64) ([]models.SearchHit, error) {
	if len(vector) != g.opts.Dimension {
		return nil, &core.DimensionMismatchError{Expected: g.opts.Dimension, Got: len(vector)}
	}
	if limit <= 0 {
		return []models.SearchHit{}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	hits, err := g.store.Search(cctx, vector, documentID, limit)
	if err != nil {
		return nil, core.ProviderError(core.ErrIndexStore, "search", err)
	}

	out := make([]models.SearchHit, 0, len(hits))
	for _, h := range hits {
		if documentID != "" && h.Chunk.DocumentID != documentID {
			slog.Warn("index returned a hit outside the document filter",
				"document_id", documentID, "hit_document_id", h.Chunk.DocumentID)
			continue
		}
		if h.Score < minScore {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Seq < out[j].Seq
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteByDocument removes every chunk of the document and reports how many were removed.
func (g *Gateway) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, fmt.Errorf("%w: empty document id", core.ErrInvalidInput)
	}
	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	n, err := g.store.DeleteByDocument(cctx, documentID)
	if err != nil {
		return 0, core.ProviderError(core.ErrIndexStore, "delete by document", err)
	}
	return n, nil
}

func (g *Gateway) Ping(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	if err := g.store.Ping(cctx); err != nil {
		return core.ProviderError(core.ErrIndexStore, "ping", err)
	}
	return nil
}

func (g *Gateway) Close() error { return g.store.Close() }
