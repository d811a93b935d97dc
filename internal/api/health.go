package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	*Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{Handler: base}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	switch {
	case h.repo == nil:
		checks["database"] = "disabled"
	case h.repo.Ping(ctx) != nil:
		h.logger.Error("Health check failed", "check", "database")
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	default:
		checks["database"] = "ok"
	}

	if runID, ok := h.svc.Active(); ok {
		status["active_run"] = runID
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
