package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

// errSuperseded means the document moved on without this job: deleted,
// resubmitted or already finalised.
var errSuperseded = errors.New("job superseded")

const cleanupTimeout = 30 * time.Second

// handle is the queue handler. It only returns an error when the process is
// shutting down so durable queues redeliver the message.
func (i *DocumentIngestor) handle(ctx context.Context, msg models.JobMessage) error {
	logger := slog.With("document_id", msg.DocumentID, "job_id", msg.JobID)

	doc, err := i.docs.Get(ctx, msg.DocumentID)
	if err != nil {
		logger.Info("dropping job for missing document")
		return nil
	}
	if doc.Status != models.StateProcessing || doc.Job == nil || doc.Job.ID != msg.JobID {
		logger.Info("dropping stale job", "status", doc.Status)
		return nil
	}

	var jobCtx context.Context
	var cancel context.CancelFunc
	if i.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, i.cfg.JobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	if _, loaded := i.inflight.LoadOrStore(doc.ID, cancel); loaded {
		logger.Warn("document already has a running job")
		return nil
	}
	defer i.inflight.Delete(doc.ID)

	start := i.now()
	logger.Info("ingestion started", "filename", doc.FileName)
	err = i.run(jobCtx, doc, logger)

	switch {
	case err == nil:
		logger.Info("ingestion completed", "elapsed", time.Since(start))
		return nil
	case ctx.Err() != nil:
		// shutdown: leave the document processing for redelivery
		logger.Warn("ingestion interrupted by shutdown")
		i.removeChunks(doc.ID, logger)
		return ctx.Err()
	case errors.Is(err, errSuperseded) || errors.Is(err, core.ErrDocumentNotFound) || errors.Is(jobCtx.Err(), context.Canceled):
		logger.Info("ingestion abandoned, document deleted or superseded")
		i.removeChunks(doc.ID, logger)
		return nil
	}

	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("job timed out after %s: %w", i.cfg.JobTimeout, err)
	}
	if errors.Is(err, core.ErrEmbeddingDimensionMismatch) {
		logger.Error("embedding dimension mismatch, check EMBED_DIM against the model", "error", err)
	} else {
		logger.Error("ingestion failed", "error", err)
	}
	i.removeChunks(doc.ID, logger)
	i.removeBytes(doc.StorageKey, logger)
	i.markFailed(context.WithoutCancel(ctx), doc.ID, msg.JobID, err)
	return nil
}

// run executes attempts until one succeeds, a failure is terminal, or the
// retry budget is spent.
func (i *DocumentIngestor) run(ctx context.Context, doc *models.Document, logger *slog.Logger) error {
	var (
		data    []byte
		attempt int
	)
	return retry.Do(
		func() error {
			if attempt > 0 {
				if err := i.startRetry(ctx, doc.ID, doc.Job.ID, attempt); err != nil {
					return err
				}
			}
			attempt++
			err := i.attempt(ctx, doc, &data)
			if err != nil && core.IsRetryable(err) {
				// partial chunks must not survive into the next attempt
				i.removeChunks(doc.ID, logger)
				i.recordError(ctx, doc.ID, doc.Job.ID, err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(i.cfg.MaxRetries+1)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return i.cfg.RetryBaseDelay * time.Duration(n+1)
		}),
		retry.RetryIf(core.IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("ingestion attempt failed", "attempt", n+1, "error", err)
		}),
	)
}

func (i *DocumentIngestor) attempt(ctx context.Context, doc *models.Document, data *[]byte) error {
	jobID := doc.Job.ID

	if *data == nil {
		b, err := i.obj.GetFile(ctx, doc.StorageKey)
		if err != nil {
			return fmt.Errorf("load stored file: %w", err)
		}
		*data = b
	}

	extracted, err := i.extractor.Extract(ctx, *data, doc.ContentType)
	if err != nil {
		return err
	}
	if err := i.progress(ctx, doc.ID, jobID, 10, fmt.Sprintf("extracted text from %d pages", extracted.PageCount)); err != nil {
		return err
	}

	chunks := i.chunker.Build(doc.ID, doc.FileName, extracted)
	if err := i.progress(ctx, doc.ID, jobID, 30, fmt.Sprintf("split into %d chunks", len(chunks))); err != nil {
		return err
	}

	if len(chunks) > 0 {
		if err := i.progress(ctx, doc.ID, jobID, 50, "generating embeddings"); err != nil {
			return err
		}
		texts := make([]string, len(chunks))
		for k := range chunks {
			texts[k] = chunks[k].Text
		}
		vectors, err := i.embedder.EmbedDocumentsProgress(ctx, texts, func(done, total int) {
			_ = i.progress(ctx, doc.ID, jobID, 50+30*done/total, fmt.Sprintf("embedded %d/%d chunks", done, total))
		})
		if err != nil {
			return err
		}
		for k := range chunks {
			chunks[k].Embedding = vectors[k]
		}

		if err := i.index.Upsert(ctx, doc.ID, chunks); err != nil {
			return err
		}
	}
	if err := i.progress(ctx, doc.ID, jobID, 90, "finalizing"); err != nil {
		return err
	}

	return i.finalize(ctx, doc.ID, jobID, extracted, len(chunks))
}

// finalize marks the document completed unless it was deleted or superseded meanwhile.
func (i *DocumentIngestor) finalize(ctx context.Context, docID, jobID string, extracted *core.ExtractedDocument, chunkCount int) error {
	_, err := i.docs.Update(ctx, docID, func(d *models.Document) error {
		if err := ownedBy(d, jobID); err != nil {
			return err
		}
		d.Status = models.StateCompleted
		d.PageCount = extracted.PageCount
		d.ChunkCount = chunkCount
		d.Error = ""
		if len(extracted.Metadata) > 0 && d.Metadata == nil {
			d.Metadata = make(map[string]string, len(extracted.Metadata))
		}
		for k, v := range extracted.Metadata {
			d.Metadata[k] = v
		}
		d.Job.Progress = 100
		d.Job.Message = "completed"
		return nil
	})
	return err
}

// progress records a checkpoint. Progress never moves backwards within an attempt.
func (i *DocumentIngestor) progress(ctx context.Context, docID, jobID string, pct int, message string) error {
	_, err := i.docs.Update(ctx, docID, func(d *models.Document) error {
		if err := ownedBy(d, jobID); err != nil {
			return err
		}
		if pct > d.Job.Progress {
			d.Job.Progress = pct
		}
		d.Job.Message = message
		return nil
	})
	return err
}

func (i *DocumentIngestor) startRetry(ctx context.Context, docID, jobID string, retryCount int) error {
	_, err := i.docs.Update(ctx, docID, func(d *models.Document) error {
		if err := ownedBy(d, jobID); err != nil {
			return err
		}
		d.Job.RetryCount = retryCount
		d.Job.Progress = 0
		d.Job.Message = fmt.Sprintf("retrying (%d/%d)", retryCount, i.cfg.MaxRetries)
		return nil
	})
	return err
}

func (i *DocumentIngestor) recordError(ctx context.Context, docID, jobID string, cause error) {
	_, _ = i.docs.Update(context.WithoutCancel(ctx), docID, func(d *models.Document) error {
		if err := ownedBy(d, jobID); err != nil {
			return err
		}
		d.Job.LastError = cause.Error()
		return nil
	})
}

func (i *DocumentIngestor) markFailed(ctx context.Context, docID, jobID string, cause error) {
	_, err := i.docs.Update(ctx, docID, func(d *models.Document) error {
		if err := ownedBy(d, jobID); err != nil {
			return err
		}
		d.Status = models.StateFailed
		d.Error = cause.Error()
		d.Job.LastError = cause.Error()
		d.Job.Message = "failed"
		return nil
	})
	if err != nil && !errors.Is(err, errSuperseded) && !errors.Is(err, core.ErrDocumentNotFound) {
		slog.Error("mark document failed", "document_id", docID, "error", err)
	}
}

func ownedBy(d *models.Document, jobID string) error {
	if d.Status != models.StateProcessing || d.Job == nil || d.Job.ID != jobID {
		return errSuperseded
	}
	return nil
}

// removeChunks is best effort; a failure here never blocks a retry.
func (i *DocumentIngestor) removeChunks(docID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	n, err := i.index.DeleteByDocument(ctx, docID)
	if err != nil {
		logger.Warn("chunk cleanup failed", "error", err)
		return
	}
	if n > 0 {
		logger.Debug("removed partial chunks", "count", n)
	}
}

func (i *DocumentIngestor) removeBytes(key string, logger *slog.Logger) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := i.obj.DeleteFile(ctx, key); err != nil {
		logger.Warn("stored file cleanup failed", "key", key, "error", err)
	}
}
