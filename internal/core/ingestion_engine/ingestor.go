package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/chunker"
	"github.com/markdave123-py/documind/internal/core/embedding"
	"github.com/markdave123-py/documind/internal/core/index"
	"github.com/markdave123-py/documind/internal/models"
)

// Ingestor is what the request path needs from the job manager.
type Ingestor interface {
	Submit(ctx context.Context, docID string) error
	Resubmit(ctx context.Context, docID string) error
	Cancel(docID string)
}

var _ Ingestor = (*DocumentIngestor)(nil)

// DocumentIngestor owns the ingestion job lifecycle. The request path submits
// documents; workers consuming the job queue run extract, chunk, embed and
// upsert with bounded retries and write progress to the document record.
type DocumentIngestor struct {
	docs      core.DocumentStore
	obj       core.ObjectClient
	queue     core.JobQueue
	extractor core.DocumentExtractor
	chunker   *chunker.Chunker
	embedder  *embedding.Gateway
	index     *index.Gateway
	cfg       IngestConfig

	// inflight maps document id to the cancel func of its running job.
	inflight sync.Map
	done     chan struct{}
	now      func() time.Time
}

type Deps struct {
	Docs      core.DocumentStore
	Objects   core.ObjectClient
	Queue     core.JobQueue
	Extractor core.DocumentExtractor
	Chunker   *chunker.Chunker
	Embedder  *embedding.Gateway
	Index     *index.Gateway
}

func NewDocumentIngestor(d Deps, cfg IngestConfig) (*DocumentIngestor, error) {
	if d.Docs == nil || d.Objects == nil || d.Queue == nil || d.Extractor == nil ||
		d.Chunker == nil || d.Embedder == nil || d.Index == nil {
		return nil, fmt.Errorf("ingestor: missing dependency")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &DocumentIngestor{
		docs:      d.Docs,
		obj:       d.Objects,
		queue:     d.Queue,
		extractor: d.Extractor,
		chunker:   d.Chunker,
		embedder:  d.Embedder,
		index:     d.Index,
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

// Start launches the queue consumer in the background. Workers stop when ctx is
// cancelled; Wait blocks until they have.
func (i *DocumentIngestor) Start(ctx context.Context) {
	i.done = make(chan struct{})
	go func() {
		defer close(i.done)
		if err := i.queue.Consume(ctx, i.handle); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("ingestion consumer stopped", "error", err)
		}
		slog.Info("ingestion workers shut down")
	}()
}

func (i *DocumentIngestor) Wait() {
	if i.done != nil {
		<-i.done
	}
}

// Submit moves an uploaded document to processing and enqueues its first job.
func (i *DocumentIngestor) Submit(ctx context.Context, docID string) error {
	job := i.newJob(docID)
	doc, err := i.docs.Update(ctx, docID, func(d *models.Document) error {
		if d.Status != models.StateUploading {
			return fmt.Errorf("%w: %s", core.ErrJobInProgress, d.Status)
		}
		d.Status = models.StateProcessing
		d.Job = job
		return nil
	})
	if err != nil {
		return err
	}
	return i.publish(ctx, doc, job)
}

// Resubmit starts a fresh job for a document that is completed or failed.
func (i *DocumentIngestor) Resubmit(ctx context.Context, docID string) error {
	doc, err := i.docs.Get(ctx, docID)
	if err != nil {
		return err
	}
	if doc.Status.Terminal() {
		// failed jobs drop the upload
		if _, err := i.obj.GetFile(ctx, doc.StorageKey); err != nil {
			if errors.Is(err, core.ErrObjectNotFound) {
				return fmt.Errorf("%w: %s", core.ErrFileGone, docID)
			}
			return fmt.Errorf("load stored file: %w", err)
		}
	}

	job := i.newJob(docID)
	doc, err = i.docs.Update(ctx, docID, func(d *models.Document) error {
		if !d.Status.Terminal() {
			return fmt.Errorf("%w: %s", core.ErrJobInProgress, d.Status)
		}
		d.Status = models.StateProcessing
		d.Error = ""
		d.PageCount = 0
		d.ChunkCount = 0
		d.Job = job
		return nil
	})
	if err != nil {
		return err
	}
	return i.publish(ctx, doc, job)
}

// Cancel stops the running job of a document, if any.
func (i *DocumentIngestor) Cancel(docID string) {
	if v, ok := i.inflight.Load(docID); ok {
		v.(context.CancelFunc)()
	}
}

func (i *DocumentIngestor) newJob(docID string) *models.Job {
	return &models.Job{
		ID:         uuid.NewString(),
		DocumentID: docID,
		Message:    "queued",
		StartedAt:  i.now(),
	}
}

func (i *DocumentIngestor) publish(ctx context.Context, doc *models.Document, job *models.Job) error {
	msg := models.JobMessage{JobID: job.ID, DocumentID: job.DocumentID, EnqueuedAt: i.now()}
	if err := i.queue.Publish(ctx, msg); err != nil {
		logger := slog.With("document_id", job.DocumentID, "job_id", job.ID)
		logger.Error("enqueue ingestion job", "error", err)
		i.removeBytes(doc.StorageKey, logger)
		i.markFailed(ctx, job.DocumentID, job.ID, fmt.Errorf("could not enqueue job: %w", err))
		return err
	}
	slog.Info("ingestion job queued", "document_id", job.DocumentID, "job_id", job.ID)
	return nil
}
