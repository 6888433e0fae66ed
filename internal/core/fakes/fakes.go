// Package fakes holds deterministic in-process providers. They back the "fake"
// provider setting for offline development and are shared by package tests.
package fakes

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/markdave123-py/documind/internal/core"
)

var ErrTransient = errors.New("fake transient failure")

var (
	_ core.EmbeddingProvider = (*Embedder)(nil)
	_ core.LLMProvider       = (*LLM)(nil)
	_ core.DocumentExtractor = (*Extractor)(nil)
)

// Embedder hashes words into a fixed-size bag-of-words vector, so texts sharing
// vocabulary score high under cosine similarity and identical texts score 1.
type Embedder struct {
	Dim int
	// FailFirst makes the first N calls fail with ErrTransient.
	FailFirst int32
	// Err, when set, is returned by every call after FailFirst is exhausted.
	Err error
	// OutDim overrides the returned vector length to simulate a misconfigured model.
	OutDim int

	docCalls   atomic.Int32
	queryCalls atomic.Int32
	calls      atomic.Int32
}

func NewEmbedder(dim int) *Embedder {
	return &Embedder{Dim: dim}
}

func (e *Embedder) DocumentCalls() int { return int(e.docCalls.Load()) }
func (e *Embedder) QueryCalls() int    { return int(e.queryCalls.Load()) }

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.docCalls.Add(1)
	if err := e.fail(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.queryCalls.Add(1)
	if err := e.fail(ctx); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

func (e *Embedder) fail(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n := e.calls.Add(1); n <= e.FailFirst {
		return ErrTransient
	}
	return e.Err
}

func (e *Embedder) vector(text string) []float32 {
	dim := e.Dim
	if e.OutDim > 0 {
		dim = e.OutDim
	}
	return HashVector(text, dim)
}

// HashVector returns the normalised bag-of-words vector of text.
func HashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32())%dim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// LLM records requests and replies with a fixed answer.
type LLM struct {
	Reply string
	Err   error

	mu       sync.Mutex
	requests []core.GenerateRequest
}

func NewLLM(reply string) *LLM {
	return &LLM{Reply: reply}
}

func (l *LLM) Generate(ctx context.Context, req core.GenerateRequest) (string, error) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.Err != nil {
		return "", l.Err
	}
	return l.Reply, nil
}

func (l *LLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// LastRequest returns the most recent request, or the zero value when none was made.
func (l *LLM) LastRequest() core.GenerateRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.requests) == 0 {
		return core.GenerateRequest{}
	}
	return l.requests[len(l.requests)-1]
}

// Extractor returns a canned document for every input.
type Extractor struct {
	Doc *core.ExtractedDocument
	Err error
	// Gate, when non-nil, blocks Extract until it is closed or ctx ends.
	Gate chan struct{}

	calls atomic.Int32
}

func (x *Extractor) CanExtract(string) bool { return true }

func (x *Extractor) Extract(ctx context.Context, _ []byte, _ string) (*core.ExtractedDocument, error) {
	x.calls.Add(1)
	if x.Gate != nil {
		select {
		case <-x.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if x.Err != nil {
		return nil, x.Err
	}
	return x.Doc, nil
}

func (x *Extractor) Calls() int { return int(x.calls.Load()) }
