package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/fsagent/internal/domain"
	"github.com/ashureev/fsagent/internal/protocol"
	"github.com/ashureev/fsagent/internal/tools"
)

const (
	// ToolCallMarker is the assistant message recorded before a tool call reply.
	ToolCallMarker = "TOOL CALL"
	// ToolResultPrefix precedes the serialized outcome in the user message.
	ToolResultPrefix = "TOOL_RESULT: "
)

var (
	// ErrMaxIterations is returned when the model keeps calling tools past the configured bound.
	ErrMaxIterations = errors.New("maximum iterations exceeded")
	// ErrAlreadyRun is returned when Run is called twice on the same Agent.
	ErrAlreadyRun = errors.New("agent already ran")
)

// Agent drives one conversation: model call, extraction, parse, tool
// execution and feedback, until the model answers in prose.
//
// An Agent is single-use and not safe for concurrent use; the history is
// only ever appended to by Run.
type Agent struct {
	model  Model
	exec   ToolExecutor
	opts   Options
	logger *slog.Logger

	runID    string
	messages []domain.Message
	seq      int
	started  bool
}

// New creates an agent for a single run.
func New(model Model, exec ToolExecutor, opts Options, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Agent{
		model:  model,
		exec:   exec,
		opts:   opts,
		logger: logger.With("run_id", runID),
		runID:  runID,
	}
}

// RunID returns the identifier used in events.
func (a *Agent) RunID() string {
	return a.runID
}

// History returns a copy of the conversation so far.
func (a *Agent) History() []domain.Message {
	return slices.Clone(a.messages)
}

// Run executes task to completion. Tool failures are fed back to the model;
// only model transport failures, cancellation and iteration exhaustion
// abort the run.
func (a *Agent) Run(ctx context.Context, task string) (Result, error) {
	if a.started {
		return Result{RunID: a.runID}, ErrAlreadyRun
	}
	a.started = true

	prompt := a.opts.SystemPrompt
	if prompt == "" {
		prompt = SystemPrompt(a.exec.Root())
	}

	a.publish(ctx, Event{Type: EventRunStarted, Content: task})
	a.append(ctx, 0, domain.RoleSystem, prompt)
	a.append(ctx, 0, domain.RoleUser, task)

	a.logger.Info("Agent run started", "workspace_root", a.exec.Root(), "task_length", len(task))

	for iteration := 1; ; iteration++ {
		if limit := a.opts.MaxIterations; limit > 0 && iteration > limit {
			return a.fail(ctx, iteration-1, fmt.Errorf("%w: %d model calls", ErrMaxIterations, limit))
		}
		if err := ctx.Err(); err != nil {
			return a.fail(ctx, iteration-1, err)
		}

		reply, err := a.model.Complete(ctx, a.History())
		if err != nil {
			return a.fail(ctx, iteration, fmt.Errorf("model call: %w", err))
		}
		a.logger.Debug("Model replied", "iteration", iteration, "reply_length", len(reply))

		intent, err := tools.Parse(protocol.Extract(reply))
		if err != nil {
			a.logger.Info("Agent run finished", "iterations", iteration)
			a.publish(ctx, Event{Type: EventFinalAnswer, Iteration: iteration, Content: reply})
			return Result{
				RunID:       a.runID,
				FinalAnswer: reply,
				Iterations:  iteration,
				Messages:    a.History(),
			}, nil
		}

		a.logger.Info("Tool call detected", "iteration", iteration, "tool", intent.Name())
		a.publish(ctx, Event{Type: EventToolCall, Iteration: iteration, Tool: intent.Name()})
		a.append(ctx, iteration, domain.RoleAssistant, ToolCallMarker)
		a.append(ctx, iteration, domain.RoleAssistant, reply)

		outcome := a.exec.Execute(ctx, intent)
		encoded, err := json.Marshal(outcome)
		if err != nil {
			encoded, _ = json.Marshal(tools.Fail(fmt.Sprintf("encode tool result: %v", err)))
		}

		a.append(ctx, iteration, domain.RoleUser, ToolResultPrefix+string(encoded))
		a.publish(ctx, Event{
			Type:      EventToolResult,
			Iteration: iteration,
			Tool:      intent.Name(),
			Status:    outcome.Status(),
			Content:   outcome.Message,
		})
	}
}

func (a *Agent) append(ctx context.Context, iteration int, role domain.Role, content string) {
	msg := domain.Message{Role: role, Content: content}
	a.messages = append(a.messages, msg)
	a.publish(ctx, Event{
		Type:      EventMessage,
		Iteration: iteration,
		Message:   &msg,
		Index:     len(a.messages) - 1,
	})
}

func (a *Agent) fail(ctx context.Context, iterations int, err error) (Result, error) {
	a.logger.Error("Agent run failed", "iterations", iterations, "error", err)
	// The run context may already be done; the failure is still reported.
	a.publish(context.WithoutCancel(ctx), Event{Type: EventRunFailed, Iteration: iterations, Content: err.Error()})
	return Result{
		RunID:      a.runID,
		Iterations: iterations,
		Messages:   a.History(),
	}, err
}

func (a *Agent) publish(ctx context.Context, event Event) {
	if a.opts.Sink == nil {
		return
	}
	a.seq++
	event.RunID = a.runID
	event.Seq = a.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := a.opts.Sink.Publish(ctx, event); err != nil {
		a.logger.Warn("failed to publish run event", "type", event.Type, "error", err)
	}
}
