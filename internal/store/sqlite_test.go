package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/ashureev/fsagent/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "data", "runs.db"))
	assert.NilError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newRun(id string, created time.Time) *domain.Run {
	return &domain.Run{
		ID:            id,
		Task:          "create a text file",
		Model:         "qwen2.5-coder-7b",
		WorkspaceRoot: "/tmp/ws",
		Status:        domain.RunStatusRunning,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestRunLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	created := time.UnixMilli(time.Now().UnixMilli())

	assert.NilError(t, repo.CreateRun(ctx, newRun("run-1", created)))

	got, err := repo.GetRun(ctx, "run-1")
	assert.NilError(t, err)
	assert.Assert(t, got != nil)
	assert.Equal(t, got.Status, domain.RunStatusRunning)
	assert.Assert(t, got.FinishedAt == nil)
	assert.Assert(t, !got.IsFinished())
	assert.Assert(t, got.CreatedAt.Equal(created))

	finished := created.Add(3 * time.Second)
	assert.NilError(t, repo.FinishRun(ctx, "run-1", RunResult{
		Status:      domain.RunStatusCompleted,
		FinalAnswer: "I created greeting.txt",
		Iterations:  2,
		FinishedAt:  finished,
	}))

	got, err = repo.GetRun(ctx, "run-1")
	assert.NilError(t, err)
	assert.Equal(t, got.Status, domain.RunStatusCompleted)
	assert.Equal(t, got.FinalAnswer, "I created greeting.txt")
	assert.Equal(t, got.Iterations, 2)
	assert.Equal(t, got.Error, "")
	assert.Assert(t, got.IsFinished())
	assert.Equal(t, got.Duration(), 3*time.Second)
}

func TestGetRunMissing(t *testing.T) {
	repo := newTestStore(t)

	got, err := repo.GetRun(context.Background(), "nope")
	assert.NilError(t, err)
	assert.Assert(t, got == nil)
}

func TestFinishRunMissing(t *testing.T) {
	repo := newTestStore(t)

	err := repo.FinishRun(context.Background(), "nope", RunResult{Status: domain.RunStatusFailed, FinishedAt: time.Now()})
	assert.ErrorContains(t, err, "not found")
}

func TestMessagesAreOrdered(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	assert.NilError(t, repo.CreateRun(ctx, newRun("run-1", now)))

	contents := []string{"system prompt", "task", "TOOL CALL", `{"tool":"list_dir","path":""}`, `TOOL_RESULT: {"status":"ok","result":[]}`}
	roles := []domain.Role{domain.RoleSystem, domain.RoleUser, domain.RoleAssistant, domain.RoleAssistant, domain.RoleUser}
	// Insert out of order; reads come back by seq.
	for _, i := range []int{3, 0, 4, 1, 2} {
		assert.NilError(t, repo.AppendMessage(ctx, &domain.StoredMessage{
			RunID: "run-1", Seq: i, Role: roles[i], Content: contents[i], CreatedAt: now,
		}))
	}

	got, err := repo.ListMessages(ctx, "run-1")
	assert.NilError(t, err)
	assert.Equal(t, len(got), len(contents))
	for i, msg := range got {
		assert.Equal(t, msg.Seq, i)
		assert.Equal(t, msg.Role, roles[i])
		assert.Equal(t, msg.Content, contents[i])
	}

	// Duplicate sequence numbers are rejected.
	err = repo.AppendMessage(ctx, &domain.StoredMessage{RunID: "run-1", Seq: 0, Role: domain.RoleUser, Content: "dup", CreatedAt: now})
	assert.Assert(t, err != nil)
}

func TestListRunsNewestFirst(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		assert.NilError(t, repo.CreateRun(ctx, newRun(id, base.Add(time.Duration(i)*time.Second))))
	}

	runs, err := repo.ListRuns(ctx, 2)
	assert.NilError(t, err)
	assert.Equal(t, len(runs), 2)
	assert.Equal(t, runs[0].ID, "c")
	assert.Equal(t, runs[1].ID, "b")
}

func TestFailInterruptedRuns(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	assert.NilError(t, repo.CreateRun(ctx, newRun("left-running", now)))
	assert.NilError(t, repo.CreateRun(ctx, newRun("done", now)))
	assert.NilError(t, repo.FinishRun(ctx, "done", RunResult{Status: domain.RunStatusCompleted, FinishedAt: now}))

	n, err := repo.FailInterruptedRuns(ctx)
	assert.NilError(t, err)
	assert.Equal(t, n, int64(1))

	got, err := repo.GetRun(ctx, "left-running")
	assert.NilError(t, err)
	assert.Equal(t, got.Status, domain.RunStatusFailed)
	assert.Assert(t, got.FinishedAt != nil)
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := withRetry(ctx, "busy then ok", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, calls, 2)

	calls = 0
	err = withRetry(ctx, "permanent", func() error {
		calls++
		return errors.New("constraint failed")
	})
	assert.ErrorContains(t, err, "permanent: constraint failed")
	assert.Equal(t, calls, 1)

	calls = 0
	err = withRetry(ctx, "always busy", func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	assert.ErrorContains(t, err, "SQLITE_BUSY")
	assert.Equal(t, calls, maxWriteAttempts)
}
