package handlers

import (
	"context"
	"net/http"

	"github.com/markdave123-py/documind/internal/core/rag"
	"github.com/markdave123-py/documind/internal/models"
)

// QueryEngine is the part of rag.Engine the handlers use.
type QueryEngine interface {
	Chat(ctx context.Context, req rag.ChatRequest) (*models.Answer, error)
	Search(ctx context.Context, req rag.SearchRequest) (*models.SearchResult, error)
}

type ChatHandler struct {
	engine QueryEngine
	debug  bool
}

func NewChatHandler(engine QueryEngine, debug bool) *ChatHandler {
	return &ChatHandler{engine: engine, debug: debug}
}

type ChatRequest struct {
	Message             string            `json:"message"`
	DocumentID          string            `json:"document_id"`
	ConversationHistory []models.ChatTurn `json:"conversation_history"`
}

type ChatResponse struct {
	Response       string            `json:"response"`
	Sources        []models.Citation `json:"sources"`
	DocumentID     string            `json:"document_id"`
	ProcessingTime float64           `json:"processing_time"`
}

type SearchRequest struct {
	Query      string `json:"query"`
	DocumentID string `json:"document_id,omitempty"`
	Limit      int    `json:"limit"`
}

type SearchResponse struct {
	Results        []models.SearchResultItem `json:"results"`
	Query          string                    `json:"query"`
	TotalResults   int                       `json:"total_results"`
	ProcessingTime float64                   `json:"processing_time"`
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, h.debug)
		return
	}

	ans, err := h.engine.Chat(r.Context(), rag.ChatRequest{
		DocumentID: req.DocumentID,
		Message:    req.Message,
		History:    req.ConversationHistory,
	})
	if err != nil {
		writeError(w, r, err, h.debug)
		return
	}

	sources := ans.Citations
	if sources == nil {
		sources = []models.Citation{}
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		Response:       ans.Text,
		Sources:        sources,
		DocumentID:     ans.DocumentID,
		ProcessingTime: ans.Latency.Seconds(),
	})
}

func (h *ChatHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, h.debug)
		return
	}

	res, err := h.engine.Search(r.Context(), rag.SearchRequest{Query: req.Query, DocumentID: req.DocumentID, Limit: req.Limit})
	if err != nil {
		writeError(w, r, err, h.debug)
		return
	}

	items := res.Items
	if items == nil {
		items = []models.SearchResultItem{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Results:        items,
		Query:          res.Query,
		TotalResults:   len(items),
		ProcessingTime: res.Latency.Seconds(),
	})
}
