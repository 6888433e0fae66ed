package models

import (
	"time"
)

// ProcessingState is the lifecycle stage of an uploaded document.
type ProcessingState string

const (
	StateUploading  ProcessingState = "uploading"
	StateProcessing ProcessingState = "processing"
	StateCompleted  ProcessingState = "completed"
	StateFailed     ProcessingState = "failed"
)

// Terminal reports whether no further automatic transition happens from s.
func (s ProcessingState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Document represents an uploaded file and its ingestion status.
type Document struct {
	ID          string            `json:"id"`
	FileName    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"file_size"`
	StorageKey  string            `json:"-"`
	StorageURL  string            `json:"storage_url,omitempty"`
	Status      ProcessingState   `json:"status"`
	PageCount   int               `json:"page_count,omitempty"`
	ChunkCount  int               `json:"chunk_count,omitempty"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Job         *Job              `json:"job,omitempty"`
	CreatedAt   time.Time         `json:"upload_time"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Metadata != nil {
		cp.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			cp.Metadata[k] = v
		}
	}
	if d.Job != nil {
		j := *d.Job
		cp.Job = &j
	}
	return &cp
}

// Job tracks one ingestion run for a document. Internal retries reuse the same ID.
type Job struct {
	ID         string    `json:"job_id"`
	DocumentID string    `json:"document_id"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// JobMessage is what travels through the job queue.
type JobMessage struct {
	JobID      string    `json:"job_id"`
	DocumentID string    `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Chunk represents one indexed piece of a document.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	FileName   string    `json:"filename"`
	Index      int       `json:"chunk_index"`
	Text       string    `json:"content"`
	Page       int       `json:"page_number,omitempty"`
	CharCount  int       `json:"chunk_size"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"-"`
}

// SearchHit is a chunk returned by a similarity search together with its score.
type SearchHit struct {
	Chunk Chunk
	Score float64
	// Seq is the insertion order inside the index, used to break score ties.
	Seq int64
}

// Citation is the part of a hit that is shown to the user.
type Citation struct {
	Content string  `json:"content"`
	Page    int     `json:"page_number,omitempty"`
	Score   float64 `json:"confidence_score"`
}

// ChatTurn is one prior message of a conversation.
type ChatTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Answer is the result of a grounded chat query.
type Answer struct {
	DocumentID string        `json:"document_id"`
	Text       string        `json:"response"`
	Citations  []Citation    `json:"sources"`
	Latency    time.Duration `json:"-"`
}

// SearchResultItem is one entry of a semantic search response.
type SearchResultItem struct {
	Content    string  `json:"content"`
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"filename"`
	Page       int     `json:"page_number,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"confidence_score"`
}

// SearchResult is the result of a semantic search without generation.
type SearchResult struct {
	Query   string             `json:"query"`
	Items   []SearchResultItem `json:"results"`
	Latency time.Duration      `json:"-"`
}
