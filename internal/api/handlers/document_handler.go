package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

// multipart framing on top of the file itself
const formOverhead = 1 << 20

// DocumentService is the part of services.DocumentService the handlers use.
type DocumentService interface {
	Upload(ctx context.Context, filename, contentType string, data []byte) (*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context) ([]*models.Document, error)
	Delete(ctx context.Context, id string) error
	Reprocess(ctx context.Context, id string) (*models.Document, error)
	OpenFile(ctx context.Context, id string) (*models.Document, []byte, error)
}

type DocumentResponse struct {
	ID          string                 `json:"id"`
	FileName    string                 `json:"filename"`
	Size        int64                  `json:"size"`
	ContentType string                 `json:"content_type,omitempty"`
	UploadedAt  time.Time              `json:"uploaded_at"`
	Status      models.ProcessingState `json:"status"`
	Pages       int                    `json:"pages,omitempty"`
	Chunks      int                    `json:"chunks,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Job         *models.Job            `json:"job,omitempty"`
}

type DocumentListResponse struct {
	Documents []DocumentResponse `json:"documents"`
	Total     int                `json:"total"`
}

func toDocumentResponse(d *models.Document) DocumentResponse {
	return DocumentResponse{
		ID:          d.ID,
		FileName:    d.FileName,
		Size:        d.Size,
		ContentType: d.ContentType,
		UploadedAt:  d.CreatedAt,
		Status:      d.Status,
		Pages:       d.PageCount,
		Chunks:      d.ChunkCount,
		Error:       d.Error,
		Job:         d.Job,
	}
}

type DocumentHandler struct {
	svc         DocumentService
	maxFileSize int64
	debug       bool
}

func NewDocumentHandler(svc DocumentService, maxFileSize int64, debug bool) *DocumentHandler {
	return &DocumentHandler{svc: svc, maxFileSize: maxFileSize, debug: debug}
}

// UploadDocument accepts a multipart "file" field and starts ingestion.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if h.maxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+formOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, fmt.Errorf("%w: request body over %d bytes", core.ErrFileTooLarge, tooBig.Limit), h.debug)
			return
		}
		writeError(w, r, errors.Join(core.ErrInvalidInput, err), h.debug)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: missing file field", core.ErrInvalidInput), h.debug)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: read upload: %w", core.ErrInvalidInput, err), h.debug)
		return
	}

	doc, err := h.svc.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, r, err, h.debug)
		return
	}
	writeJSON(w, http.StatusAccepted, toDocumentResponse(doc))
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, err, h.debug)
		return
	}
	out := DocumentListResponse{Documents: make([]DocumentResponse, 0, len(docs)), Total: len(docs)}
	for _, d := range docs {
		out.Documents = append(out.Documents, toDocumentResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *DocumentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Reprocess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, h.debug)
		return
	}
	writeJSON(w, http.StatusAccepted, toDocumentResponse(doc))
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("document %s deleted", id)})
}

// ServeFile returns the original upload.
func (h *DocumentHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	doc, data, err := h.svc.OpenFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, h.debug)
		return
	}
	ct := doc.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
