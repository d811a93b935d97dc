package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/ashureev/fsagent/internal/agent"
	"github.com/ashureev/fsagent/internal/domain"
	"github.com/ashureev/fsagent/internal/llm/llmtest"
	"github.com/ashureev/fsagent/internal/sandbox"
	"github.com/ashureev/fsagent/internal/store"
	"github.com/ashureev/fsagent/internal/tools"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type testEnv struct {
	router http.Handler
	repo   store.Repository
	svc    *agent.Service
}

func newTestEnv(t *testing.T, model agent.Model, withStore bool) *testEnv {
	t.Helper()
	sb, err := sandbox.New(t.TempDir())
	assert.NilError(t, err)
	exec := tools.NewExecutor(sb, nil)

	var repo store.Repository
	if withStore {
		sqlite, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
		assert.NilError(t, err)
		t.Cleanup(func() { _ = sqlite.Close() })
		repo = sqlite
	}

	svc := agent.NewService(model, exec, repo, nil, agent.ServiceConfig{ModelName: "test-model", MaxIterations: 5}, nil)
	t.Cleanup(svc.Wait)

	base := NewHandler(context.Background(), repo, svc, nil)
	r := chi.NewRouter()
	NewRunsHandler(base).RegisterRoutes(r)
	NewHealthHandler(base).RegisterHealth(r)
	return &testEnv{router: r, repo: repo, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var got map[string]any
	if w.Body.Len() > 0 {
		assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &got))
	}
	return w, got
}

func waitIdle(t *testing.T, svc *agent.Service) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if id, ok := svc.Active(); ok {
			return poll.Continue("run %s still active", id)
		}
		return poll.Success()
	}, poll.WithTimeout(2*time.Second))
}

func TestStartRunAndFetchTranscript(t *testing.T) {
	model := llmtest.Texts(`{"tool":"write_file","path":"hello.txt","content":"hello world"}`, "Created hello.txt.")
	env := newTestEnv(t, model, true)

	w, body := env.do(t, http.MethodPost, "/api/runs", `{"task":"create hello.txt"}`)
	assert.Equal(t, w.Code, http.StatusAccepted)
	runID, _ := body["run_id"].(string)
	assert.Assert(t, runID != "")

	waitIdle(t, env.svc)

	w, body = env.do(t, http.MethodGet, "/api/runs/"+runID, "")
	assert.Equal(t, w.Code, http.StatusOK)
	var run domain.Run
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, run.Status, domain.RunStatusCompleted)
	assert.Equal(t, run.FinalAnswer, "Created hello.txt.")

	w, body = env.do(t, http.MethodGet, "/api/runs/"+runID+"/messages", "")
	assert.Equal(t, w.Code, http.StatusOK)
	messages, _ := body["messages"].([]any)
	assert.Equal(t, len(messages), 5)

	w, body = env.do(t, http.MethodGet, "/api/runs?limit=5", "")
	assert.Equal(t, w.Code, http.StatusOK)
	runs, _ := body["runs"].([]any)
	assert.Equal(t, len(runs), 1)
}

func TestStartRunValidation(t *testing.T) {
	env := newTestEnv(t, llmtest.Texts(), true)

	w, _ := env.do(t, http.MethodPost, "/api/runs", `{"task":"   "}`)
	assert.Equal(t, w.Code, http.StatusBadRequest)

	w, _ = env.do(t, http.MethodPost, "/api/runs", `not json`)
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestStartRunConflict(t *testing.T) {
	release := make(chan struct{})
	model := llmtest.NewScriptedModel(llmtest.Reply{Text: "done", Block: release})
	env := newTestEnv(t, model, false)

	w, body := env.do(t, http.MethodPost, "/api/runs", `{"task":"first"}`)
	assert.Equal(t, w.Code, http.StatusAccepted)
	first := body["run_id"]

	w, body = env.do(t, http.MethodPost, "/api/runs", `{"task":"second"}`)
	assert.Equal(t, w.Code, http.StatusConflict)
	assert.Equal(t, body["error"], "run_in_progress")
	assert.Equal(t, body["run_id"], first)

	w, body = env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, body["active_run"], first)

	close(release)
	waitIdle(t, env.svc)
}

func TestRunLookups(t *testing.T) {
	env := newTestEnv(t, llmtest.Texts(), true)

	w, _ := env.do(t, http.MethodGet, "/api/runs/nope", "")
	assert.Equal(t, w.Code, http.StatusNotFound)

	w, _ = env.do(t, http.MethodGet, "/api/runs/nope/messages", "")
	assert.Equal(t, w.Code, http.StatusNotFound)

	w, _ = env.do(t, http.MethodGet, "/api/runs?limit=-1", "")
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestArchiveDisabled(t *testing.T) {
	env := newTestEnv(t, llmtest.Texts(), false)

	w, _ := env.do(t, http.MethodGet, "/api/runs", "")
	assert.Equal(t, w.Code, http.StatusNotImplemented)

	w, body := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, w.Code, http.StatusOK)
	checks, _ := body["checks"].(map[string]any)
	assert.Equal(t, checks["database"], "disabled")
}

func TestHealthDegradedWhenDatabaseClosed(t *testing.T) {
	env := newTestEnv(t, llmtest.Texts(), true)
	assert.NilError(t, env.repo.Close())

	w, body := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, w.Code, http.StatusServiceUnavailable)
	assert.Equal(t, body["status"], "degraded")
}
