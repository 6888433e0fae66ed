package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/markdave123-py/documind/internal/core/rag"
	"github.com/markdave123-py/documind/internal/models"
)

type ListDocumentsInput struct{}

type DocumentOutput struct {
	ID         string    `json:"id"`
	FileName   string    `json:"filename"`
	Status     string    `json:"status"`
	Pages      int       `json:"pages,omitempty"`
	Chunks     int       `json:"chunks,omitempty"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type ListDocumentsOutput struct {
	Documents []DocumentOutput `json:"documents"`
	Total     int              `json:"total"`
}

type DocumentStatusInput struct {
	DocumentID string `json:"document_id" jsonschema:"id of the uploaded document"`
}

type SearchInput struct {
	Query      string `json:"query" jsonschema:"text to search for"`
	DocumentID string `json:"document_id,omitempty" jsonschema:"restrict results to this document"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of results (default 10)"`
}

type SearchOutput struct {
	Results []models.SearchResultItem `json:"results"`
	Count   int                       `json:"count"`
}

type AskInput struct {
	DocumentID string `json:"document_id" jsonschema:"id of a completed document"`
	Question   string `json:"question" jsonschema:"question answered only from the document"`
}

type AskOutput struct {
	Answer  string            `json:"answer"`
	Sources []models.Citation `json:"sources"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List uploaded documents with their processing status, newest first",
	}, s.handleListDocuments)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "document_status",
		Description: "Show the processing status and job progress of one document",
	}, s.handleDocumentStatus)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over indexed document chunks",
	}, s.handleSearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_document",
		Description: "Ask a question answered only from one document, with cited excerpts",
	}, s.handleAsk)
}

func toOutput(d *models.Document) DocumentOutput {
	out := DocumentOutput{
		ID:         d.ID,
		FileName:   d.FileName,
		Status:     string(d.Status),
		Pages:      d.PageCount,
		Chunks:     d.ChunkCount,
		Error:      d.Error,
		UploadedAt: d.CreatedAt,
	}
	if d.Job != nil {
		out.Progress = d.Job.Progress
	}
	return out
}

func (s *Server) handleListDocuments(ctx context.Context, _ *mcp.CallToolRequest, _ ListDocumentsInput) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	docs, err := s.docs.List(ctx)
	if err != nil {
		return nil, ListDocumentsOutput{}, err
	}
	out := ListDocumentsOutput{Documents: make([]DocumentOutput, 0, len(docs)), Total: len(docs)}
	for _, d := range docs {
		out.Documents = append(out.Documents, toOutput(d))
	}
	return nil, out, nil
}

func (s *Server) handleDocumentStatus(ctx context.Context, _ *mcp.CallToolRequest, in DocumentStatusInput) (*mcp.CallToolResult, DocumentOutput, error) {
	d, err := s.docs.Get(ctx, in.DocumentID)
	if err != nil {
		return nil, DocumentOutput{}, err
	}
	return nil, toOutput(d), nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	res, err := s.engine.Search(ctx, rag.SearchRequest{Query: in.Query, DocumentID: in.DocumentID, Limit: in.Limit})
	if err != nil {
		return nil, SearchOutput{}, err
	}
	items := res.Items
	if items == nil {
		items = []models.SearchResultItem{}
	}
	return nil, SearchOutput{Results: items, Count: len(items)}, nil
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, AskOutput, error) {
	ans, err := s.engine.Chat(ctx, rag.ChatRequest{DocumentID: in.DocumentID, Message: in.Question})
	if err != nil {
		return nil, AskOutput{}, err
	}
	sources := ans.Citations
	if sources == nil {
		sources = []models.Citation{}
	}
	return nil, AskOutput{Answer: ans.Text, Sources: sources}, nil
}
