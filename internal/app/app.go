package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/markdave123-py/documind/internal/api/handlers"
	"github.com/markdave123-py/documind/internal/config"
	"github.com/markdave123-py/documind/internal/core/chunker"
	"github.com/markdave123-py/documind/internal/core/docstore"
	"github.com/markdave123-py/documind/internal/core/embedding"
	"github.com/markdave123-py/documind/internal/core/extract"
	"github.com/markdave123-py/documind/internal/core/generation"
	"github.com/markdave123-py/documind/internal/core/index"
	"github.com/markdave123-py/documind/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/documind/internal/core/object-client"
	"github.com/markdave123-py/documind/internal/core/queue"
	"github.com/markdave123-py/documind/internal/core/rag"
	"github.com/markdave123-py/documind/internal/services"
)

const Version = "1.0.0"

type App struct {
	Config    *config.Config
	Documents *services.DocumentService
	Engine    *rag.Engine
	Ingestor  *ingestion_engine.DocumentIngestor
	Index     *index.Gateway
	Server    *Server

	// closers run in reverse order on Close.
	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (a *App, err error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	objClient, err := objectclient.New(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	slog.Info("object client initialized and ready", "backend", cfg.StorageBackend)

	store, err := newIndexStore(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("index store: %w", err)
	}
	idx, err := index.NewGateway(store, index.Options{
		Dimension: cfg.EmbedDim,
		BatchSize: cfg.UpsertBatchSize,
		Timeout:   cfg.ProviderTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.Index = idx
	a.closers = append(a.closers, idx.Close)
	if err := idx.EnsureIndex(appCtx); err != nil {
		return nil, fmt.Errorf("ensure index: %w", err)
	}
	slog.Info("vector index initialized and ready", "backend", cfg.IndexBackend, "dimension", cfg.EmbedDim)

	embProvider, closeEmb, err := newEmbedder(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	if closeEmb != nil {
		a.closers = append(a.closers, closeEmb)
	}
	llmProvider, closeLLM, err := newLLM(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	if closeLLM != nil {
		a.closers = append(a.closers, closeLLM)
	}

	embedder, err := embedding.NewGateway(embProvider, embedding.Options{
		Dimension:         cfg.EmbedDim,
		BatchSize:         cfg.EmbedBatchSize,
		Timeout:           cfg.ProviderTimeout,
		RequestsPerSecond: cfg.EmbedRPS,
	})
	if err != nil {
		return nil, err
	}
	generator, err := generation.NewGateway(llmProvider, generation.Options{
		MaxTokens:        cfg.GenMaxTokens,
		Temperature:      cfg.GenTemperature,
		HistoryWindow:    cfg.HistoryWindow,
		MaxContextTokens: cfg.MaxContextTokens,
		Timeout:          cfg.ProviderTimeout,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("model providers ready", "embed", cfg.EmbedProvider, "gen", cfg.GenProvider)

	chunks, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	// the queue outlives appCtx
	jobs, err := queue.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("job queue: %w", err)
	}
	a.closers = append(a.closers, jobs.Close)
	slog.Info("job queue ready", "backend", cfg.QueueBackend, "workers", cfg.Workers)

	docs := docstore.NewMemoryStore()
	extractor := extract.Default()

	a.Ingestor, err = ingestion_engine.NewDocumentIngestor(ingestion_engine.Deps{
		Docs:      docs,
		Objects:   objClient,
		Queue:     jobs,
		Extractor: extractor,
		Chunker:   chunks,
		Embedder:  embedder,
		Index:     idx,
	}, ingestion_engine.ConfigFrom(cfg))
	if err != nil {
		return nil, err
	}

	a.Engine, err = rag.NewEngine(docs, embedder, idx, generator, rag.Options{
		ChatLimit:      cfg.ChatResultLimit,
		ChatMinScore:   cfg.ChatMinScore,
		SearchLimit:    cfg.SearchResultLimit,
		SearchMinScore: cfg.SearchMinScore,
	})
	if err != nil {
		return nil, err
	}

	a.Documents = services.NewDocumentService(docs, objClient, idx, a.Ingestor, services.UploadLimits{
		MaxFileSize:       cfg.MaxFileSize,
		AllowedExtensions: cfg.AllowedExtensions,
	})

	checks := map[string]handlers.Check{
		"document_processor": func(context.Context) error {
			if !extractor.CanExtract("application/pdf") {
				return errors.New("no pdf extractor registered")
			}
			return nil
		},
		"storage":      objClient.Ping,
		"vector_store": idx.Ping,
		"embeddings":   embedder.Ping,
		"llm":          generator.Ping,
	}
	a.Server = NewServer(cfg, a.Documents, a.Engine, checks)
	return a, nil
}

// StartWorkers begins consuming ingestion jobs until ctx is cancelled.
func (a *App) StartWorkers(ctx context.Context) {
	a.Ingestor.Start(ctx)
}

// Close waits for the workers, then releases clients in reverse order of creation.
func (a *App) Close() error {
	if a.Ingestor != nil {
		a.Ingestor.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
