package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rabuchanan2077/parking-lot-video/internal/capture"
)

// ReconnectConfig bounds how a camera session is restarted after failure.
// MaxRetries of zero makes the first failure final for that camera.
type ReconnectConfig struct {
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	MaxRetryDelay time.Duration `yaml:"maxRetryDelay"`
}

// DefaultReconnectConfig gives up on the first failure.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    0,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// ReconnectState tracks attempts for one camera.
type ReconnectState struct {
	CurrentRetries int
	Reconnects     atomic.Uint32
}

// SessionFunc runs one source session. It returns nil when ctx ends.
type SessionFunc func(ctx context.Context) error

// RunWithReconnect runs session until it returns nil, ctx is done, the
// error is not worth retrying, or retries are exhausted. Delays double
// from RetryDelay up to MaxRetryDelay.
func RunWithReconnect(ctx context.Context, camera string, session SessionFunc, cfg ReconnectConfig, state *ReconnectState) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		started := time.Now()
		err := session(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		// A session that ran for a while earned a fresh retry budget.
		if cfg.MaxRetryDelay > 0 && time.Since(started) > cfg.MaxRetryDelay {
			state.CurrentRetries = 0
		}

		var perr *capture.PipelineError
		if errors.As(err, &perr) && !perr.Category.Retryable() {
			return fmt.Errorf("ingest: %s: not retrying %s failure: %w", camera, perr.Category, err)
		}

		state.CurrentRetries++
		if state.CurrentRetries > cfg.MaxRetries {
			if cfg.MaxRetries == 0 {
				return fmt.Errorf("ingest: %s: %w", camera, err)
			}
			return fmt.Errorf("ingest: %s: max retries exceeded (%d attempts): %w", camera, cfg.MaxRetries, err)
		}
		state.Reconnects.Add(1)

		delay := calculateBackoff(state.CurrentRetries, cfg)
		slog.Warn("ingest: restarting camera",
			"camera", camera,
			"error", err,
			"attempt", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// calculateBackoff returns RetryDelay * 2^(attempt-1), capped.
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if cfg.MaxRetryDelay > 0 && delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
