package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/fsagent/internal/domain"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		model TEXT NOT NULL,
		workspace_root TEXT NOT NULL,
		status TEXT NOT NULL,
		final_answer TEXT,
		error TEXT,
		iterations INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS run_messages (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	query := `
	INSERT INTO runs (run_id, task, model, workspace_root, status, iterations, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	return withRetry(ctx, "create run", func() error {
		_, err := s.db.ExecContext(ctx, query,
			run.ID, run.Task, run.Model, run.WorkspaceRoot, string(run.Status), run.Iterations,
			run.CreatedAt.UnixMilli(), run.UpdatedAt.UnixMilli(),
		)
		return err
	})
}

// AppendMessage archives one conversation message of a run.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.StoredMessage) error {
	query := `
	INSERT INTO run_messages (run_id, seq, role, content, created_at)
	VALUES (?, ?, ?, ?, ?)`

	return withRetry(ctx, "append message", func() error {
		_, err := s.db.ExecContext(ctx, query,
			msg.RunID, msg.Seq, string(msg.Role), msg.Content, msg.CreatedAt.UnixMilli(),
		)
		return err
	})
}

// FinishRun records the terminal state of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, result RunResult) error {
	query := `
	UPDATE runs SET status = ?, final_answer = ?, error = ?, iterations = ?, updated_at = ?, finished_at = ?
	WHERE run_id = ?`

	finished := result.FinishedAt.UnixMilli()
	return withRetry(ctx, "finish run", func() error {
		res, err := s.db.ExecContext(ctx, query,
			string(result.Status), nullString(result.FinalAnswer), nullString(result.Error), result.Iterations,
			finished, finished, runID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	query := `
		SELECT run_id, task, model, workspace_root, status, final_answer, error,
		       iterations, created_at, updated_at, finished_at
		FROM runs WHERE run_id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT run_id, task, model, workspace_root, status, final_answer, error,
		       iterations, created_at, updated_at, finished_at
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListMessages returns the archived transcript of a run in order.
func (s *SQLiteStore) ListMessages(ctx context.Context, runID string) ([]*domain.StoredMessage, error) {
	query := `
		SELECT run_id, seq, role, content, created_at
		FROM run_messages WHERE run_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.StoredMessage
	for rows.Next() {
		var msg domain.StoredMessage
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.RunID, &msg.Seq, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// FailInterruptedRuns marks runs left running by a previous process as failed.
func (s *SQLiteStore) FailInterruptedRuns(ctx context.Context) (int64, error) {
	now := time.Now().UnixMilli()
	query := `
	UPDATE runs SET status = ?, error = ?, updated_at = ?, finished_at = ?
	WHERE status = ?`

	var affected int64
	err := withRetry(ctx, "fail interrupted runs", func() error {
		res, err := s.db.ExecContext(ctx, query,
			string(domain.RunStatusFailed), "interrupted by process shutdown", now, now,
			string(domain.RunStatusRunning),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	var finalAnswer, errMsg sql.NullString
	var createdAt, updatedAt int64
	var finishedAt sql.NullInt64

	if err := row.Scan(
		&run.ID, &run.Task, &run.Model, &run.WorkspaceRoot, &status, &finalAnswer, &errMsg,
		&run.Iterations, &createdAt, &updatedAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.FinalAnswer = finalAnswer.String
	run.Error = errMsg.String
	run.CreatedAt = time.UnixMilli(createdAt)
	run.UpdatedAt = time.UnixMilli(updatedAt)
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64)
		run.FinishedAt = &t
	}
	return &run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
