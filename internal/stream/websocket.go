package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/fsagent/internal/agent"
	"github.com/ashureev/fsagent/internal/domain"
)

const writeTimeout = 10 * time.Second

// ActiveRun reports the run currently in progress.
type ActiveRun interface {
	Active() (string, bool)
}

// RunFinder looks up archived runs.
type RunFinder interface {
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
}

// WebSocketHandler streams run events to websocket clients.
type WebSocketHandler struct {
	hub           *Hub
	active        ActiveRun
	runs          RunFinder
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewWebSocketHandler creates a websocket handler. runs may be nil.
func NewWebSocketHandler(hub *Hub, active ActiveRun, runs RunFinder, allowedOrigin string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		hub:           hub,
		active:        active,
		runs:          runs,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// wsMessage is a control message sent by clients.
type wsMessage struct {
	Type string `json:"type"`
}

// ServeHTTP upgrades the request and streams the events of the run named by
// the {id} route parameter until the run ends or the client disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	h.logger.Info("Stream connection request", "run_id", runID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if status, msg := h.streamable(r.Context(), runID); status != http.StatusOK {
		http.Error(w, msg, status)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "run_id", runID)
		return
	}

	replay, live, unsubscribe := h.hub.Subscribe(runID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, runID)
	}()

	h.outputLoop(ctx, ws, runID, replay, live)
	// Closing performs the handshake and unblocks the input loop.
	if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
		h.logger.Debug("Failed to close websocket", "error", closeErr, "run_id", runID)
	}
	wg.Wait()
	h.logger.Info("Stream session ended", "run_id", runID)
}

// streamable decides whether runID can be streamed before upgrading.
func (h *WebSocketHandler) streamable(ctx context.Context, runID string) (int, string) {
	if runID == "" {
		return http.StatusBadRequest, "run id required"
	}
	if h.hub.Known(runID) {
		return http.StatusOK, ""
	}
	if h.active != nil {
		if active, ok := h.active.Active(); ok && active == runID {
			return http.StatusOK, ""
		}
	}
	if h.runs != nil {
		run, err := h.runs.GetRun(ctx, runID)
		if err != nil {
			h.logger.Error("Failed to look up run", "error", err, "run_id", runID)
			return http.StatusInternalServerError, "failed to look up run"
		}
		if run != nil {
			return http.StatusGone, "run is no longer live; fetch its messages instead"
		}
	}
	return http.StatusNotFound, "run not found"
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, runID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "run_id", runID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "run_id", runID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, runID string, replay []agent.Event, live <-chan agent.Event) {
	for _, event := range replay {
		if err := h.writeJSON(ctx, ws, event); err != nil {
			h.logger.Debug("Stream write error", "error", err, "run_id", runID)
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-live:
			if !ok {
				return
			}
			if err := h.writeJSON(ctx, ws, event); err != nil {
				h.logger.Debug("Stream write error", "error", err, "run_id", runID)
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
