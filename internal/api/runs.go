package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/fsagent/internal/agent"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	maxTaskBytes     = 64 * 1024
)

// RunsHandler handles run endpoints.
type RunsHandler struct {
	*Handler
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(base *Handler) *RunsHandler {
	return &RunsHandler{Handler: base}
}

// RegisterRoutes registers run routes.
func (h *RunsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", h.StartRun)
		r.Get("/", h.ListRuns)
		r.Get("/{id}", h.GetRun)
		r.Get("/{id}/messages", h.ListMessages)
	})
}

type startRunRequest struct {
	Task string `json:"task"`
}

// StartRun starts a run in the background and returns its ID.
func (h *RunsHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTaskBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		Error(w, http.StatusBadRequest, "task is required")
		return
	}

	runID, err := h.svc.Start(h.runCtx, task)
	if errors.Is(err, agent.ErrRunInProgress) {
		active, _ := h.svc.Active()
		JSON(w, http.StatusConflict, map[string]string{
			"error":  "run_in_progress",
			"run_id": active,
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to start run", "error", err)
		Error(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	h.logger.Info("Run started", "run_id", runID)
	JSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// ListRuns returns the most recent runs.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun returns one run.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	runID := chi.URLParam(r, "id")
	run, err := h.repo.GetRun(r.Context(), runID)
	if err != nil {
		h.logger.Error("Failed to get run", "error", err, "run_id", runID)
		Error(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		Error(w, http.StatusNotFound, "run not found")
		return
	}
	JSON(w, http.StatusOK, run)
}

// ListMessages returns the archived transcript of a run.
func (h *RunsHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	runID := chi.URLParam(r, "id")
	run, err := h.repo.GetRun(r.Context(), runID)
	if err != nil {
		h.logger.Error("Failed to get run", "error", err, "run_id", runID)
		Error(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		Error(w, http.StatusNotFound, "run not found")
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), runID)
	if err != nil {
		h.logger.Error("Failed to list messages", "error", err, "run_id", runID)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"run_id": runID, "messages": messages})
}

func (h *RunsHandler) requireStore(w http.ResponseWriter) bool {
	if h.repo == nil {
		Error(w, http.StatusNotImplemented, "run archive is disabled")
		return false
	}
	return true
}
