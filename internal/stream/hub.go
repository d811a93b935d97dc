// Package stream fans run events out to websocket subscribers.
package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/fsagent/internal/agent"
)

const (
	defaultBacklogSize  = 256
	defaultSubscriberQ  = 64
	defaultRetainedRuns = 8
)

// HubConfig sizes the hub buffers. Zero values select defaults.
type HubConfig struct {
	BacklogSize     int
	SubscriberQueue int
	// RetainedRuns is how many finished runs stay replayable.
	RetainedRuns int
}

type subscriber struct {
	ch chan agent.Event
}

type runStream struct {
	backlog  *Backlog
	subs     map[*subscriber]struct{}
	finished bool
}

// Hub is an agent.EventSink that keeps a short replay backlog per run and
// forwards live events to subscribers.
type Hub struct {
	cfg    HubConfig
	logger *slog.Logger

	mu       sync.Mutex
	runs     map[string]*runStream
	finished []string // oldest first
}

var _ agent.EventSink = (*Hub)(nil)

// NewHub creates a hub.
func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	if cfg.BacklogSize <= 0 {
		cfg.BacklogSize = defaultBacklogSize
	}
	if cfg.SubscriberQueue <= 0 {
		cfg.SubscriberQueue = defaultSubscriberQ
	}
	if cfg.RetainedRuns <= 0 {
		cfg.RetainedRuns = defaultRetainedRuns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:    cfg,
		logger: logger,
		runs:   make(map[string]*runStream),
	}
}

// Publish records the event and forwards it to the run's subscribers.
// Slow subscribers lose events rather than stall the run.
func (h *Hub) Publish(_ context.Context, event agent.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs := h.stream(event.RunID)
	if rs.finished {
		return nil
	}
	rs.backlog.Add(event)

	for sub := range rs.subs {
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("Stream subscriber too slow, dropping event",
				"run_id", event.RunID, "seq", event.Seq, "type", event.Type)
		}
	}

	if event.IsTerminal() {
		rs.finished = true
		for sub := range rs.subs {
			close(sub.ch)
		}
		rs.subs = nil
		h.retire(event.RunID)
	}
	return nil
}

// Subscribe returns the events published so far for runID and a channel of
// the events that follow. The channel is closed after the run's terminal
// event. cancel must be called when the caller stops reading.
func (h *Hub) Subscribe(runID string) (replay []agent.Event, live <-chan agent.Event, cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs := h.stream(runID)
	replay = rs.backlog.Events()

	sub := &subscriber{ch: make(chan agent.Event, h.cfg.SubscriberQueue)}
	if rs.finished {
		close(sub.ch)
		return replay, sub.ch, func() {}
	}
	rs.subs[sub] = struct{}{}
	h.logger.Debug("Stream subscriber registered", "run_id", runID, "subscribers", len(rs.subs))

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := rs.subs[sub]; ok {
				delete(rs.subs, sub)
				close(sub.ch)
			}
		})
	}
	return replay, sub.ch, cancel
}

// Known reports whether the hub has seen events for runID.
func (h *Hub) Known(runID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.runs[runID]
	return ok && rs.backlog.Len() > 0
}

// Subscribers returns the number of live subscribers for runID.
func (h *Hub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rs, ok := h.runs[runID]; ok {
		return len(rs.subs)
	}
	return 0
}

// stream returns the entry for runID, creating it. Caller holds h.mu.
func (h *Hub) stream(runID string) *runStream {
	rs, ok := h.runs[runID]
	if !ok {
		rs = &runStream{
			backlog: NewBacklog(h.cfg.BacklogSize),
			subs:    make(map[*subscriber]struct{}),
		}
		h.runs[runID] = rs
	}
	return rs
}

// retire marks runID finished and evicts the oldest finished runs beyond
// the retention limit. Caller holds h.mu.
func (h *Hub) retire(runID string) {
	h.finished = append(h.finished, runID)
	for len(h.finished) > h.cfg.RetainedRuns {
		oldest := h.finished[0]
		h.finished = h.finished[1:]
		delete(h.runs, oldest)
		h.logger.Debug("Stream backlog evicted", "run_id", oldest)
	}
}
