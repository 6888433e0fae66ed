package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	// Status is set for documents that are not ready yet.
	Status models.ProcessingState `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps domain errors to status codes. Internal detail is only
// exposed when debug is on.
func writeError(w http.ResponseWriter, r *http.Request, err error, debug bool) {
	status, msg := classify(err)
	resp := ErrorResponse{Error: msg}

	var notReady *core.DocumentNotReadyError
	if errors.As(err, &notReady) {
		resp.Status = notReady.State
	}
	if status < http.StatusInternalServerError {
		// client errors are safe to explain
		resp.Detail = err.Error()
	} else {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		if debug {
			resp.Detail = err.Error()
		}
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	var notReady *core.DocumentNotReadyError
	switch {
	case errors.As(err, &notReady):
		return http.StatusConflict, "document is not ready for queries"
	case errors.Is(err, core.ErrDocumentNotFound):
		return http.StatusNotFound, "document not found"
	case errors.Is(err, core.ErrJobInProgress):
		return http.StatusConflict, "document is already being processed"
	case errors.Is(err, core.ErrFileGone):
		return http.StatusGone, "stored file is gone, upload the document again"
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, core.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, "unsupported file type"
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, core.ErrEmbeddingProvider),
		errors.Is(err, core.ErrGenerationProvider),
		errors.Is(err, core.ErrEmptyGeneration),
		errors.Is(err, core.ErrIndexStore):
		return http.StatusBadGateway, "upstream service error"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.Join(core.ErrInvalidInput, err)
	}
	return nil
}
