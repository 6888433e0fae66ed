package core

import "context"

// EmbeddingProvider turns text into vectors. Document and query embeddings use
// different task types on providers that distinguish them.
type EmbeddingProvider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// GenerateRequest carries everything a chat completion needs.
type GenerateRequest struct {
	System      string
	History     []Message
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Message is one turn passed to a provider. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
