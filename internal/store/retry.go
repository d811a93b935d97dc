package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/fsagent/internal/shared"
)

const (
	maxWriteAttempts = 3
	baseRetryDelay   = 50 * time.Millisecond
)

// withRetry runs fn, retrying with exponential backoff while SQLite reports
// SQLITE_BUSY or a locked database.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxWriteAttempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxWriteAttempts-1 {
			break
		}

		delay := baseRetryDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("Database busy, retrying",
			"op", op,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
