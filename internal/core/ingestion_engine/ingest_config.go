package ingestion_engine

import (
	"fmt"
	"time"

	"github.com/markdave123-py/documind/internal/config"
)

// IngestConfig tunes the job manager.
//
// MaxRetries:     retries after the first failed attempt; attempts = MaxRetries+1.
// RetryBaseDelay: the n-th retry waits RetryBaseDelay*n.
// JobTimeout:     upper bound for one job across all its attempts.
type IngestConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	JobTimeout     time.Duration
}

func ConfigFrom(cfg *config.Config) IngestConfig {
	return IngestConfig{
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		JobTimeout:     cfg.JobTimeout,
	}
}

func (c IngestConfig) validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("retry base delay must be >= 0")
	}
	return nil
}
