package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	payload     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, id);
`

var _ core.JobQueue = (*SQLiteQueue)(nil)

// SQLiteQueue persists job messages in a local SQLite file so queued and
// interrupted jobs survive a restart.
type SQLiteQueue struct {
	db           *sql.DB
	workers      int
	maxDelivery  int
	pollInterval time.Duration
	wake         chan struct{}
}

type SQLiteOptions struct {
	Workers int
	// MaxDeliveries bounds redelivery of a message whose handler keeps failing.
	MaxDeliveries int
	PollInterval  time.Duration
}

func NewSQLiteQueue(ctx context.Context, path string, opts SQLiteOptions) (*SQLiteQueue, error) {
	if path == "" {
		return nil, fmt.Errorf("queue path is empty")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// one writer avoids SQLITE_BUSY between workers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &SQLiteQueue{
		db:           db,
		workers:      opts.Workers,
		maxDelivery:  opts.MaxDeliveries,
		pollInterval: opts.PollInterval,
		wake:         make(chan struct{}, 1),
	}, nil
}

func (q *SQLiteQueue) Publish(ctx context.Context, msg models.JobMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, document_id, payload, status, created_at, updated_at) VALUES (?, ?, ?, 'pending', ?, ?)`,
		msg.JobID, msg.DocumentID, string(payload), now, now)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", msg.JobID, err)
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Consume first returns jobs left running by a previous process to the pending
// state, then polls with the configured number of workers.
func (q *SQLiteQueue) Consume(ctx context.Context, handler core.JobHandler) error {
	res, err := q.db.ExecContext(ctx, `UPDATE jobs SET status = 'pending', updated_at = ? WHERE status = 'running'`, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("recover running jobs: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("requeued interrupted jobs", "count", n)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.work(ctx, handler)
			return nil
		})
	}
	return g.Wait()
}

func (q *SQLiteQueue) work(ctx context.Context, handler core.JobHandler) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		for {
			id, msg, attempts, err := q.claim(ctx)
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("claim job", "error", err)
				}
				break
			}
			herr := handler(ctx, msg)
			if ctx.Err() != nil {
				q.requeue(id)
				return
			}
			q.finish(ctx, id, attempts, msg, herr)
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

func (q *SQLiteQueue) claim(ctx context.Context) (int64, models.JobMessage, int, error) {
	var (
		id       int64
		payload  string
		attempts int
		msg      models.JobMessage
	)
	err := q.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = 'running', attempts = attempts + 1, updated_at = ?
		WHERE id = (SELECT id FROM jobs WHERE status = 'pending' ORDER BY id LIMIT 1)
		RETURNING id, payload, attempts`, time.Now().UnixMilli()).Scan(&id, &payload, &attempts)
	if err != nil {
		return 0, msg, 0, err
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		// poison message, drop it
		_, _ = q.db.ExecContext(ctx, `UPDATE jobs SET status = 'dead', last_error = ? WHERE id = ?`, err.Error(), id)
		return 0, msg, 0, fmt.Errorf("decode job %d: %w", id, err)
	}
	return id, msg, attempts, nil
}

func (q *SQLiteQueue) finish(ctx context.Context, id int64, attempts int, msg models.JobMessage, herr error) {
	// finish must land even when ctx is being cancelled
	ctx = context.WithoutCancel(ctx)
	var err error
	switch {
	case herr == nil:
		_, err = q.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	case attempts < q.maxDelivery:
		slog.Warn("job failed, will redeliver", "job_id", msg.JobID, "attempt", attempts, "error", herr)
		_, err = q.db.ExecContext(ctx, `UPDATE jobs SET status = 'pending', last_error = ?, updated_at = ? WHERE id = ?`,
			herr.Error(), time.Now().UnixMilli(), id)
	default:
		slog.Error("job failed permanently", "job_id", msg.JobID, "attempts", attempts, "error", herr)
		_, err = q.db.ExecContext(ctx, `UPDATE jobs SET status = 'dead', last_error = ?, updated_at = ? WHERE id = ?`,
			herr.Error(), time.Now().UnixMilli(), id)
	}
	if err != nil {
		slog.Error("update job row", "job_id", msg.JobID, "error", err)
	}
}

// requeue returns a job interrupted by shutdown without charging the attempt.
func (q *SQLiteQueue) requeue(id int64) {
	_, err := q.db.Exec(`UPDATE jobs SET status = 'pending', attempts = MAX(attempts - 1, 0), updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		slog.Error("requeue interrupted job", "id", id, "error", err)
	}
}

// Pending reports how many jobs wait to be claimed.
func (q *SQLiteQueue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&n)
	return n, err
}

func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
