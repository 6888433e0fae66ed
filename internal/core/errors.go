package core

import (
	"errors"
	"fmt"

	"github.com/markdave123-py/documind/internal/models"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrObjectNotFound   = errors.New("object not found")
	ErrJobInProgress    = errors.New("document is already being processed")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnsupportedType  = errors.New("unsupported file type")
	ErrFileTooLarge     = errors.New("file too large")
	ErrFileGone         = errors.New("stored file is gone, upload the document again")

	ErrExtraction                 = errors.New("text extraction failed")
	ErrEmbeddingDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmbeddingProvider          = errors.New("embedding provider error")
	ErrGenerationProvider         = errors.New("generation provider error")
	ErrEmptyGeneration            = errors.New("generation returned no content")
	ErrIndexStore                 = errors.New("index store error")
	ErrStorage                    = errors.New("object storage error")
)

// ExtractionError reports a document whose bytes could not be turned into text.
// It is terminal for the ingestion job.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return "extraction failed: " + e.Reason
}

func (e *ExtractionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrExtraction, e.Err}
	}
	return []error{ErrExtraction}
}

// DimensionMismatchError reports a vector whose length differs from the configured dimension.
type DimensionMismatchError struct {
	Expected int
	Got      int
	Position int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch at %d: expected %d, got %d", e.Position, e.Expected, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrEmbeddingDimensionMismatch }

// DocumentNotReadyError is returned when a query targets a document that is not completed yet.
type DocumentNotReadyError struct {
	DocumentID string
	State      models.ProcessingState
}

func (e *DocumentNotReadyError) Error() string {
	return fmt.Sprintf("document %s is not ready (status: %s)", e.DocumentID, e.State)
}

// ProviderError wraps a failure from an external collaborator with one of the
// provider sentinels so callers can classify it with errors.Is.
func ProviderError(kind error, op string, err error) error {
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}

// IsRetryable reports whether an ingestion step failure is transient.
// Extraction and dimension errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrExtraction) || errors.Is(err, ErrEmbeddingDimensionMismatch) {
		return false
	}
	if errors.Is(err, ErrObjectNotFound) {
		return false
	}
	return errors.Is(err, ErrEmbeddingProvider) ||
		errors.Is(err, ErrGenerationProvider) ||
		errors.Is(err, ErrIndexStore) ||
		errors.Is(err, ErrStorage)
}
