package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/ashureev/fsagent/internal/config"
	"github.com/ashureev/fsagent/internal/stream"
)

// fakeModelServer answers chat completions with the scripted replies in order.
func fakeModelServer(t *testing.T, replies ...string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	next := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if next >= len(replies) {
			http.Error(w, "script exhausted", http.StatusInternalServerError)
			return
		}
		reply := replies[next]
		next++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("CONVERSATION_LOG_ENABLED", "false")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "fsagent.db"))
}

func TestRunCommandHelloWorld(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	model := fakeModelServer(t,
		`{"tool":"write_file","path":"greeting.txt","content":"hello world"}`,
		"Created greeting.txt.",
	)

	var stdout, stderr bytes.Buffer
	app := newApp()
	app.SetOut(&stdout)
	app.SetErr(&stderr)
	app.SetArgs([]string{"run", "--root", root, "--base-url", model.URL + "/v1", "--no-store"})
	assert.NilError(t, app.Execute())

	assert.Equal(t, stdout.String(), "Created greeting.txt.\n")
	data, err := os.ReadFile(filepath.Join(root, "greeting.txt"))
	assert.NilError(t, err)
	assert.Equal(t, string(data), "hello world")
}

func TestRunCommandReportsTransportFailure(t *testing.T) {
	isolateEnv(t)
	model := fakeModelServer(t)

	app := newApp()
	app.SetOut(&bytes.Buffer{})
	app.SetErr(&bytes.Buffer{})
	app.SetArgs([]string{"run", "--root", t.TempDir(), "--base-url", model.URL + "/v1", "list the files"})
	err := app.Execute()
	assert.ErrorContains(t, err, "status=500")
}

func TestRunOptionsApply(t *testing.T) {
	cmd := newRunCommand()
	assert.NilError(t, cmd.ParseFlags([]string{"--model", "llama", "--max-iterations", "3", "--no-store"}))

	cfg := &config.Config{StoreEnabled: true}
	cfg.Workspace.Root = "./workspace"
	cfg.Model.Name = "qwen"
	opts := runOptions{model: "llama", maxIterations: 3, noStore: true}
	opts.apply(cmd, cfg)

	assert.Equal(t, cfg.Workspace.Root, "./workspace")
	assert.Equal(t, cfg.Model.Name, "llama")
	assert.Equal(t, cfg.Agent.MaxIterations, 3)
	assert.Equal(t, cfg.StoreEnabled, false)
}

func TestRouterServesHealthAndHeartbeat(t *testing.T) {
	isolateEnv(t)
	cfg, err := config.Load()
	assert.NilError(t, err)
	cfg.Workspace.Root = t.TempDir()
	cfg.StoreEnabled = false

	rt, err := newDeps(cfg, newJSONLogger(&bytes.Buffer{}, 0))
	assert.NilError(t, err)
	defer rt.Close()

	hub := stream.NewHub(stream.HubConfig{}, nil)
	svc := rt.service(hub, nil)
	router := newRouter(context.Background(), cfg, rt.repo, svc, hub, nil)

	for path, want := range map[string]string{
		"/health":     ".",
		"/api/health": `"status":"healthy"`,
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, w.Code, http.StatusOK, path)
		assert.Assert(t, strings.Contains(w.Body.String(), want), w.Body.String())
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/runs/unknown", nil))
	assert.Equal(t, w.Code, http.StatusNotFound)

}
