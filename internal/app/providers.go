package app

import (
	"context"
	"fmt"

	"github.com/markdave123-py/documind/internal/config"
	"github.com/markdave123-py/documind/internal/core"
	db "github.com/markdave123-py/documind/internal/core/database"
	"github.com/markdave123-py/documind/internal/core/fakes"
	"github.com/markdave123-py/documind/internal/core/index/memory"
	"github.com/markdave123-py/documind/internal/core/index/milvus"
	"github.com/markdave123-py/documind/internal/core/llm"
)

// offlineReply is what the fake generation provider answers with.
const offlineReply = "Generation is running in offline mode; see the cited excerpts for the relevant passages."

func newIndexStore(ctx context.Context, cfg *config.Config) (core.IndexStore, error) {
	switch cfg.IndexBackend {
	case "", "memory":
		return memory.New(cfg.EmbedDim), nil
	case "pgvector":
		return db.NewDatabaseClient(ctx, cfg.DatabaseURL, cfg.SslCertPath, cfg.EmbedDim)
	case "milvus":
		return milvus.New(ctx, milvus.Config{
			Endpoint:   cfg.MilvusEndpoint,
			APIKey:     cfg.MilvusAPIKey,
			Collection: cfg.CollectionName,
			Dimension:  cfg.EmbedDim,
		})
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

// newEmbedder returns the embedding provider and an optional close func.
func newEmbedder(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, func() error, error) {
	switch cfg.EmbedProvider {
	case "gemini":
		e, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		return e, e.Close, nil
	case "openai":
		e, err := llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbedModel, cfg.EmbedBatchSize)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		return e, nil, nil
	case "fake":
		return fakes.NewEmbedder(cfg.EmbedDim), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown embed provider %q", cfg.EmbedProvider)
	}
}

func newLLM(ctx context.Context, cfg *config.Config) (core.LLMProvider, func() error, error) {
	switch cfg.GenProvider {
	case "gemini":
		l, err := llm.NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the llm, %w", err)
		}
		return l, l.Close, nil
	case "openai":
		l, err := llm.NewOpenAILLM(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.GenModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the llm, %w", err)
		}
		return l, nil, nil
	case "fake":
		return fakes.NewLLM(offlineReply), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown gen provider %q", cfg.GenProvider)
	}
}

// EnsureIndex creates the configured collection or table and its document id index.
func EnsureIndex(ctx context.Context, cfg *config.Config) error {
	store, err := newIndexStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.EnsureIndex(ctx)
}
