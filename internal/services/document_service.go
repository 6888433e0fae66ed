package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/extract"
	"github.com/markdave123-py/documind/internal/core/index"
	"github.com/markdave123-py/documind/internal/core/ingestion_engine"
	"github.com/markdave123-py/documind/internal/models"
)

const cleanupTimeout = 2 * time.Minute

type UploadLimits struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

type DocumentService struct {
	docs     core.DocumentStore
	storage  core.ObjectClient
	index    *index.Gateway
	ingestor ingestion_engine.Ingestor
	limits   UploadLimits
}

func NewDocumentService(docs core.DocumentStore, storage core.ObjectClient, idx *index.Gateway, ing ingestion_engine.Ingestor, limits UploadLimits) *DocumentService {
	return &DocumentService{docs: docs, storage: storage, index: idx, ingestor: ing, limits: limits}
}

// Upload validates and stores a file, registers the document and submits its
// ingestion job. The returned document is already processing.
func (s *DocumentService) Upload(ctx context.Context, filename, contentType string, data []byte) (*models.Document, error) {
	filename = strings.TrimSpace(filepath.Base(filename))
	if filename == "" || filename == "." || filename == "/" {
		return nil, fmt.Errorf("%w: filename is required", core.ErrInvalidInput)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", core.ErrInvalidInput)
	}
	if s.limits.MaxFileSize > 0 && int64(len(data)) > s.limits.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", core.ErrFileTooLarge, len(data), s.limits.MaxFileSize)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if len(s.limits.AllowedExtensions) > 0 && !slices.Contains(s.limits.AllowedExtensions, ext) {
		return nil, fmt.Errorf("%w: %q (allowed: %s)", core.ErrUnsupportedType, ext, strings.Join(s.limits.AllowedExtensions, ", "))
	}
	// the extension picks the extractor; the client header only fills in for
	// bytes nothing else can identify
	if detected := extract.DetectContentType(filename, data); detected != "application/octet-stream" || contentType == "" {
		contentType = detected
	}

	docID := uuid.NewString()
	doc := &models.Document{
		ID:          docID,
		FileName:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		StorageKey:  objectKey(docID, filename),
		Status:      models.StateUploading,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	location, err := s.storage.UploadFile(ctx, doc.StorageKey, data, contentType)
	if err != nil {
		_ = s.docs.Delete(context.WithoutCancel(ctx), docID)
		return nil, err
	}
	if _, err := s.docs.Update(ctx, docID, func(d *models.Document) error {
		d.StorageURL = location
		return nil
	}); err != nil {
		return nil, err
	}

	// a publish failure leaves the document failed, which the caller can see
	if err := s.ingestor.Submit(ctx, docID); err != nil {
		return nil, fmt.Errorf("submit ingestion job: %w", err)
	}
	slog.Info("document uploaded", "document_id", docID, "filename", filename, "size", len(data))
	return s.docs.Get(ctx, docID)
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.docs.Get(ctx, id)
}

// List returns every document, newest first.
func (s *DocumentService) List(ctx context.Context) ([]*models.Document, error) {
	return s.docs.List(ctx)
}

// Delete removes the record immediately and cleans up chunks and bytes in the
// background. Cleanup errors are only logged.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return err
	}
	s.ingestor.Cancel(id)

	go s.cleanup(doc)
	return nil
}

// DeleteSync is Delete with cleanup done before returning. It reports how many
// chunks were removed.
func (s *DocumentService) DeleteSync(ctx context.Context, id string) (int, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return 0, err
	}
	s.ingestor.Cancel(id)
	return s.cleanup(doc), nil
}

func (s *DocumentService) cleanup(doc *models.Document) int {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	logger := slog.With("document_id", doc.ID)

	n, err := s.index.DeleteByDocument(ctx, doc.ID)
	if err != nil {
		logger.Error("delete document chunks", "error", err)
	}
	if doc.StorageKey != "" {
		if err := s.storage.DeleteFile(ctx, doc.StorageKey); err != nil {
			logger.Error("delete stored file", "key", doc.StorageKey, "error", err)
		}
	}
	logger.Info("document deleted", "chunks_removed", n)
	return n
}

// Reprocess starts a new ingestion job for a completed or failed document.
func (s *DocumentService) Reprocess(ctx context.Context, id string) (*models.Document, error) {
	if err := s.ingestor.Resubmit(ctx, id); err != nil {
		return nil, err
	}
	return s.docs.Get(ctx, id)
}

// OpenFile returns the stored bytes of a document.
func (s *DocumentService) OpenFile(ctx context.Context, id string) (*models.Document, []byte, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.storage.GetFile(ctx, doc.StorageKey)
	if errors.Is(err, core.ErrObjectNotFound) {
		return nil, nil, fmt.Errorf("%w: stored file for %s", core.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}
	return doc, data, nil
}

// objectKey creates a consistent key layout.
func objectKey(docID, filename string) string {
	filename = strings.TrimSpace(filename)
	filename = strings.ReplaceAll(filename, " ", "_")
	filename = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, filename)
	return path.Join("documents", docID, filename)
}
