// Package store provides the run transcript archive.
package store

import (
	"context"
	"time"

	"github.com/ashureev/fsagent/internal/domain"
)

// Repository defines the interface for archiving agent runs.
//
// The archive is write-mostly audit data: transcripts are never loaded back
// into a new run's conversation.
type Repository interface {
	// CreateRun inserts a new run record.
	CreateRun(ctx context.Context, run *domain.Run) error

	// AppendMessage archives one conversation message of a run.
	AppendMessage(ctx context.Context, msg *domain.StoredMessage) error

	// FinishRun records the terminal state of a run.
	FinishRun(ctx context.Context, runID string, result RunResult) error

	// GetRun retrieves a run by ID. Returns nil, nil when it does not exist.
	GetRun(ctx context.Context, runID string) (*domain.Run, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)

	// ListMessages returns the archived transcript of a run in order.
	ListMessages(ctx context.Context, runID string) ([]*domain.StoredMessage, error)

	// FailInterruptedRuns marks runs left in the running state by a previous
	// process as failed.
	FailInterruptedRuns(ctx context.Context) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// RunResult is the terminal state written by FinishRun.
type RunResult struct {
	Status      domain.RunStatus
	FinalAnswer string
	Error       string
	Iterations  int
	FinishedAt  time.Time
}
