// Package agent implements the tool-calling conversation loop.
package agent

import (
	"time"

	"github.com/ashureev/fsagent/internal/domain"
)

// EventType categorizes run events.
type EventType string

const (
	// EventRunStarted is published before the first model call.
	EventRunStarted EventType = "run_started"
	// EventMessage is published for every message appended to the history.
	EventMessage EventType = "message"
	// EventToolCall is published when a reply decodes as a tool call.
	EventToolCall EventType = "tool_call"
	// EventToolResult is published after a tool call executed.
	EventToolResult EventType = "tool_result"
	// EventFinalAnswer is published when the model answers in prose.
	EventFinalAnswer EventType = "final_answer"
	// EventRunFailed is published when the run aborts.
	EventRunFailed EventType = "run_failed"
)

// Event describes one step of a run.
type Event struct {
	RunID     string          `json:"run_id"`
	Seq       int             `json:"seq"`
	Type      EventType       `json:"type"`
	Iteration int             `json:"iteration"`
	Timestamp time.Time       `json:"ts"`
	Message   *domain.Message `json:"message,omitempty"`
	// Index is the history position of Message; 0 is the system prompt.
	Index   int    `json:"index"`
	Tool    string `json:"tool,omitempty"`
	Status  string `json:"status,omitempty"`
	Content string `json:"content,omitempty"`
}

// IsTerminal returns true for the last event of a run.
func (e Event) IsTerminal() bool {
	return e.Type == EventFinalAnswer || e.Type == EventRunFailed
}

// Result is the outcome of a run.
type Result struct {
	RunID       string           `json:"run_id"`
	FinalAnswer string           `json:"final_answer"`
	Iterations  int              `json:"iterations"`
	Messages    []domain.Message `json:"messages"`
}

// Options configures an Agent.
type Options struct {
	// RunID identifies the run in events. A UUID is generated when empty.
	RunID string
	// MaxIterations bounds the number of model calls. Zero means unbounded.
	MaxIterations int
	// SystemPrompt replaces the built-in protocol instructions.
	SystemPrompt string
	Sink         EventSink
}

// DefaultMaxIterations is used when no bound is configured.
const DefaultMaxIterations = 25
