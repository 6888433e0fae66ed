package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/documind/internal/core"
)

// Options tunes the gateway. Zero values fall back to sensible defaults.
type Options struct {
	Dimension int
	BatchSize int
	Timeout   time.Duration
	// RequestsPerSecond limits provider calls; 0 means unlimited.
	RequestsPerSecond float64
}

// Gateway wraps an EmbeddingProvider with batching, timeouts, rate limiting and
// dimension validation. It never retries; callers decide.
type Gateway struct {
	provider core.EmbeddingProvider
	opts     Options
	limiter  *rate.Limiter
}

func NewGateway(provider core.EmbeddingProvider, opts Options) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is nil")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", opts.Dimension)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	g := &Gateway{provider: provider, opts: opts}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return g, nil
}

func (g *Gateway) Dimension() int { return g.opts.Dimension }

func (g *Gateway) BatchSize() int { return g.opts.BatchSize }

// EmbedDocuments embeds texts in document mode, returning one vector per text in order.
// Empty input makes no provider call.
func (g *Gateway) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return g.EmbedDocumentsProgress(ctx, texts, nil)
}

// EmbedDocumentsProgress is EmbedDocuments with a callback after every batch,
// reporting how many texts have been embedded so far.
func (g *Gateway) EmbedDocumentsProgress(ctx context.Context, texts []string, progress func(done, total int)) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.opts.BatchSize {
		end := min(start+g.opts.BatchSize, len(texts))
		batch := texts[start:end]

		vecs, err := g.call(ctx, "embed documents", func(cctx context.Context) ([][]float32, error) {
			return g.provider.EmbedDocuments(cctx, batch)
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, core.ProviderError(core.ErrEmbeddingProvider, "embed documents",
				fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(batch)))
		}
		for i, v := range vecs {
			if err := g.check(v, start+i); err != nil {
				return nil, err
			}
		}
		out = append(out, vecs...)
		if progress != nil {
			progress(len(out), len(texts))
		}
	}
	return out, nil
}

// EmbedQuery embeds a single search query in query mode.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.call(ctx, "embed query", func(cctx context.Context) ([][]float32, error) {
		v, err := g.provider.EmbedQuery(cctx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := g.check(vecs[0], 0); err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Ping embeds a short probe to verify the provider is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	_, err := g.EmbedQuery(ctx, "health check")
	return err
}

func (g *Gateway) call(ctx context.Context, op string, fn func(context.Context) ([][]float32, error)) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, core.ProviderError(core.ErrEmbeddingProvider, op, err)
		}
	}
	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	vecs, err := fn(cctx)
	if err != nil {
		return nil, core.ProviderError(core.ErrEmbeddingProvider, op, err)
	}
	return vecs, nil
}

func (g *Gateway) check(v []float32, pos int) error {
	if len(v) != g.opts.Dimension {
		err := &core.DimensionMismatchError{Expected: g.opts.Dimension, Got: len(v), Position: pos}
		slog.Error("embedding dimension mismatch", "expected", err.Expected, "got", err.Got, "position", pos)
		return err
	}
	return nil
}
