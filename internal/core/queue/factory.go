package queue

import (
	"context"
	"fmt"

	"github.com/markdave123-py/documind/internal/config"
	"github.com/markdave123-py/documind/internal/core"
)

// New builds the job queue selected by cfg.QueueBackend.
func New(ctx context.Context, cfg *config.Config) (core.JobQueue, error) {
	switch cfg.QueueBackend {
	case "", "memory":
		return NewMemoryQueue(cfg.QueueCapacity, cfg.Workers), nil
	case "sqlite":
		return NewSQLiteQueue(ctx, cfg.QueuePath, SQLiteOptions{Workers: cfg.Workers})
	case "rocketmq":
		return NewRocketMQQueue(cfg.RocketMQServer, cfg.Workers)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}
