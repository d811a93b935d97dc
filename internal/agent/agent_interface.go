package agent

import (
	"context"

	"github.com/ashureev/fsagent/internal/domain"
	"github.com/ashureev/fsagent/internal/llm"
	"github.com/ashureev/fsagent/internal/tools"
)

// Model produces a single completion for the full conversation.
// This interface is implemented by the chat completions client.
type Model interface {
	// Complete sends messages in order and returns the reply text.
	// A returned error is fatal for the run.
	Complete(ctx context.Context, messages []domain.Message) (string, error)
}

// ToolExecutor runs decoded tool calls inside the workspace.
type ToolExecutor interface {
	// Execute runs intent once. Failures are reported in the Outcome.
	Execute(ctx context.Context, intent tools.Intent) tools.Outcome

	// Root returns the workspace root, used in the system prompt.
	Root() string
}

// EventSink receives run events as they happen.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// Ensure the concrete collaborators implement the interfaces.
var (
	_ Model        = (*llm.Client)(nil)
	_ ToolExecutor = (*tools.Executor)(nil)
)
