// Package api provides HTTP handlers for the fsagent API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/fsagent/internal/store"
)

// RunService starts agent runs.
type RunService interface {
	Start(ctx context.Context, task string) (string, error)
	Active() (string, bool)
}

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	svc    RunService
	runCtx context.Context
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
// Runs started through the API are bound to runCtx. repo may be nil when
// archiving is disabled.
func NewHandler(runCtx context.Context, repo store.Repository, svc RunService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:   repo,
		svc:    svc,
		runCtx: runCtx,
		logger: logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
