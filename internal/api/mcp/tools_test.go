package mcp

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/rag"
	"github.com/markdave123-py/documind/internal/models"
)

type stubDocs map[string]*models.Document

func (s stubDocs) Get(_ context.Context, id string) (*models.Document, error) {
	if d, ok := s[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
}

func (s stubDocs) List(context.Context) ([]*models.Document, error) {
	out := make([]*models.Document, 0, len(s))
	for _, d := range s {
		out = append(out, d)
	}
	return out, nil
}

type stubEngine struct {
	lastSearch rag.SearchRequest
}

func (e *stubEngine) Chat(_ context.Context, req rag.ChatRequest) (*models.Answer, error) {
	return &models.Answer{DocumentID: req.DocumentID, Text: "It is blue (Page 4)."}, nil
}

func (e *stubEngine) Search(_ context.Context, req rag.SearchRequest) (*models.SearchResult, error) {
	e.lastSearch = req
	return &models.SearchResult{Query: req.Query, Items: []models.SearchResultItem{{Content: "sky", DocumentID: "d1", Score: 0.8}}}, nil
}

func newTestServer(t *testing.T) (*Server, *stubEngine) {
	t.Helper()
	docs := stubDocs{
		"d1": {ID: "d1", FileName: "sky.pdf", Status: models.StateCompleted, PageCount: 4, Job: &models.Job{Progress: 100}},
	}
	eng := &stubEngine{}
	s, err := NewServer("test", docs, eng)
	require.NoError(t, err)
	return s, eng
}

func TestNewServerValidates(t *testing.T) {
	_, err := NewServer("test", nil, &stubEngine{})
	assert.Error(t, err)
}

func TestListAndStatusTools(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, list, err := s.handleListDocuments(ctx, nil, ListDocumentsInput{})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "sky.pdf", list.Documents[0].FileName)

	_, st, err := s.handleDocumentStatus(ctx, nil, DocumentStatusInput{DocumentID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, "completed", st.Status)
	assert.Equal(t, 100, st.Progress)

	_, _, err = s.handleDocumentStatus(ctx, nil, DocumentStatusInput{DocumentID: "nope"})
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func TestSearchAndAskTools(t *testing.T) {
	s, eng := newTestServer(t)
	ctx := context.Background()

	_, res, err := s.handleSearch(ctx, nil, SearchInput{Query: "sky", DocumentID: "d1", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, rag.SearchRequest{Query: "sky", DocumentID: "d1", Limit: 3}, eng.lastSearch)

	_, ans, err := s.handleAsk(ctx, nil, AskInput{DocumentID: "d1", Question: "what colour?"})
	require.NoError(t, err)
	assert.Equal(t, "It is blue (Page 4).", ans.Answer)
	assert.NotNil(t, ans.Sources)
}
