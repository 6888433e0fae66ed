// Package queue carries ingestion job messages from the request path to workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

var ErrClosed = errors.New("queue closed")

var _ core.JobQueue = (*MemoryQueue)(nil)

// MemoryQueue is a bounded in-process queue. Messages are lost on restart.
type MemoryQueue struct {
	msgs    chan models.JobMessage
	workers int

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewMemoryQueue(capacity, workers int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	if workers <= 0 {
		workers = 1
	}
	return &MemoryQueue{
		msgs:    make(chan models.JobMessage, capacity),
		workers: workers,
		done:    make(chan struct{}),
	}
}

// Publish blocks while the queue is full.
func (q *MemoryQueue) Publish(ctx context.Context, msg models.JobMessage) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case q.msgs <- msg:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("publish job %s: %w", msg.JobID, ctx.Err())
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler core.JobHandler) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-q.done:
					return nil
				case msg := <-q.msgs:
					if err := handler(ctx, msg); err != nil && ctx.Err() == nil {
						slog.Error("job handler failed", "job_id", msg.JobID, "document_id", msg.DocumentID, "error", err)
					}
				}
			}
		})
	}
	return g.Wait()
}

// Len reports the number of messages waiting.
func (q *MemoryQueue) Len() int { return len(q.msgs) }

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
