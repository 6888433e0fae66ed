package core

import (
	"context"

	"github.com/markdave123-py/documind/internal/models"
)

// ObjectClient stores the original uploaded bytes.
// Keys are backend independent so local disk, S3 and OSS are interchangeable.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (location string, err error)
	GetFile(ctx context.Context, key string) ([]byte, error)
	// DeleteFile removes the object. Deleting a missing object is not an error.
	DeleteFile(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// IndexStore is a vector database backend.
type IndexStore interface {
	// EnsureIndex creates the collection and the document id index when missing.
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, chunks []models.Chunk) error
	// Search returns up to limit hits ordered by descending score. An empty
	// documentID searches every document.
	Search(ctx context.Context, vector []float32, documentID string, limit int) ([]models.SearchHit, error)
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// DocumentStore is the registry of uploaded documents.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context) ([]*models.Document, error)
	// Update applies fn atomically to the stored document. Returning an error from fn
	// leaves the document untouched.
	Update(ctx context.Context, id string, fn func(*models.Document) error) (*models.Document, error)
	Delete(ctx context.Context, id string) error
}

// JobHandler processes one job message. Returning an error asks the queue to redeliver
// where the backend supports it.
type JobHandler func(ctx context.Context, msg models.JobMessage) error

// JobQueue decouples the request path from ingestion workers.
type JobQueue interface {
	Publish(ctx context.Context, msg models.JobMessage) error
	// Consume runs handler for every message until ctx is cancelled.
	Consume(ctx context.Context, handler JobHandler) error
	Close() error
}
