// Package rag answers questions grounded in the chunks of one document.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/embedding"
	"github.com/markdave123-py/documind/internal/core/generation"
	"github.com/markdave123-py/documind/internal/core/index"
	"github.com/markdave123-py/documind/internal/models"
)

const maxSearchLimit = 50

type Options struct {
	ChatLimit      int
	ChatMinScore   float64
	SearchLimit    int
	SearchMinScore float64
}

type ChatRequest struct {
	DocumentID string
	Message    string
	History    []models.ChatTurn
}

type SearchRequest struct {
	Query      string
	DocumentID string
	Limit      int
}

// Engine is read-only and safe for concurrent use.
type Engine struct {
	docs      core.DocumentStore
	embedder  *embedding.Gateway
	index     *index.Gateway
	generator *generation.Gateway
	opts      Options
}

func NewEngine(docs core.DocumentStore, emb *embedding.Gateway, idx *index.Gateway, gen *generation.Gateway, opts Options) (*Engine, error) {
	if docs == nil || emb == nil || idx == nil || gen == nil {
		return nil, fmt.Errorf("rag engine: missing dependency")
	}
	if opts.ChatLimit <= 0 {
		opts.ChatLimit = 5
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 10
	}
	return &Engine{docs: docs, embedder: emb, index: idx, generator: gen, opts: opts}, nil
}

// Chat answers a question about one completed document.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (*models.Answer, error) {
	start := time.Now()
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, fmt.Errorf("%w: message is required", core.ErrInvalidInput)
	}
	if req.DocumentID == "" {
		return nil, fmt.Errorf("%w: document_id is required", core.ErrInvalidInput)
	}

	doc, err := e.readyDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedder.EmbedQuery(ctx, msg)
	if err != nil {
		return nil, err
	}
	hits, err := e.index.Search(ctx, vec, doc.ID, e.opts.ChatLimit, e.opts.ChatMinScore)
	if err != nil {
		return nil, err
	}

	citations := make([]models.Citation, 0, len(hits))
	for _, h := range hits {
		citations = append(citations, models.Citation{Content: h.Chunk.Text, Page: h.Chunk.Page, Score: h.Score})
	}

	text, err := e.generator.Generate(ctx, generation.Request{
		Query:        msg,
		DocumentName: doc.FileName,
		Citations:    citations,
		History:      req.History,
	})
	if err != nil {
		return nil, err
	}

	latency := time.Since(start)
	slog.Debug("chat answered", "document_id", doc.ID, "citations", len(citations), "latency", latency)
	return &models.Answer{
		DocumentID: doc.ID,
		Text:       text,
		Citations:  citations,
		Latency:    latency,
	}, nil
}

// Search returns matching chunks without generation. An empty DocumentID
// searches every document.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*models.SearchResult, error) {
	start := time.Now()
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return nil, fmt.Errorf("%w: query is required", core.ErrInvalidInput)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.opts.SearchLimit
	}
	limit = min(limit, maxSearchLimit)

	if req.DocumentID != "" {
		if _, err := e.docs.Get(ctx, req.DocumentID); err != nil {
			return nil, err
		}
	}

	vec, err := e.embedder.EmbedQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	hits, err := e.index.Search(ctx, vec, req.DocumentID, limit, e.opts.SearchMinScore)
	if err != nil {
		return nil, err
	}

	items := make([]models.SearchResultItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, models.SearchResultItem{
			Content:    h.Chunk.Text,
			DocumentID: h.Chunk.DocumentID,
			FileName:   h.Chunk.FileName,
			Page:       h.Chunk.Page,
			ChunkIndex: h.Chunk.Index,
			Score:      h.Score,
		})
	}
	return &models.SearchResult{Query: q, Items: items, Latency: time.Since(start)}, nil
}

// readyDocument fails before any retrieval when the document is missing or not completed.
func (e *Engine) readyDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := e.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StateCompleted {
		return nil, &core.DocumentNotReadyError{DocumentID: doc.ID, State: doc.Status}
	}
	return doc, nil
}
