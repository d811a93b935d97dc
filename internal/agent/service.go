package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/fsagent/internal/domain"
	"github.com/ashureev/fsagent/internal/store"
)

// ErrRunInProgress is returned when a run is requested while another one
// is still working on the same workspace.
var ErrRunInProgress = errors.New("a run is already in progress")

// ServiceConfig holds run settings shared by every run of a Service.
type ServiceConfig struct {
	ModelName     string
	MaxIterations int
	SystemPrompt  string
}

// Service runs agents against one workspace, one run at a time, and
// archives every run through the repository.
type Service struct {
	model  Model
	exec   ToolExecutor
	repo   store.Repository
	sink   EventSink
	cfg    ServiceConfig
	logger *slog.Logger

	mu     sync.Mutex
	active string
	wg     sync.WaitGroup
}

// NewService creates a run service. repo and sink may be nil.
func NewService(model Model, exec ToolExecutor, repo store.Repository, sink EventSink, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		model:  model,
		exec:   exec,
		repo:   repo,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
	}
}

// Active returns the ID of the run currently in progress.
func (s *Service) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != ""
}

// Run executes task synchronously.
func (s *Service) Run(ctx context.Context, task string) (Result, error) {
	runID, err := s.acquire()
	if err != nil {
		return Result{}, err
	}
	defer s.release(runID)

	return s.execute(ctx, runID, task)
}

// Start executes task in the background and returns its run ID.
// The run is bound to ctx, not to the caller's request.
func (s *Service) Start(ctx context.Context, task string) (string, error) {
	runID, err := s.acquire()
	if err != nil {
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(runID)
		if _, err := s.execute(ctx, runID, task); err != nil {
			s.logger.Warn("Background run failed", "run_id", runID, "error", err)
		}
	}()
	return runID, nil
}

// Wait blocks until background runs finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) acquire() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != "" {
		return "", fmt.Errorf("%w: %s", ErrRunInProgress, s.active)
	}
	s.active = uuid.NewString()
	return s.active, nil
}

func (s *Service) release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == runID {
		s.active = ""
	}
}

func (s *Service) execute(ctx context.Context, runID, task string) (Result, error) {
	now := time.Now().UTC()
	if s.repo != nil {
		if err := s.repo.CreateRun(ctx, &domain.Run{
			ID:            runID,
			Task:          task,
			Model:         s.cfg.ModelName,
			WorkspaceRoot: s.exec.Root(),
			Status:        domain.RunStatusRunning,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			err = fmt.Errorf("archive run: %w", err)
			s.abort(ctx, runID, err)
			return Result{RunID: runID}, err
		}
	}

	a := New(s.model, s.exec, Options{
		RunID:         runID,
		MaxIterations: s.cfg.MaxIterations,
		SystemPrompt:  s.cfg.SystemPrompt,
		Sink:          Sinks(s.recorder(), s.sink),
	}, s.logger)

	result, runErr := a.Run(ctx, task)

	if s.repo != nil {
		finish := store.RunResult{
			Status:      domain.RunStatusCompleted,
			FinalAnswer: result.FinalAnswer,
			Iterations:  result.Iterations,
			FinishedAt:  time.Now().UTC(),
		}
		if runErr != nil {
			finish.Status = domain.RunStatusFailed
			finish.Error = runErr.Error()
		}
		if err := s.repo.FinishRun(context.WithoutCancel(ctx), runID, finish); err != nil {
			s.logger.Error("Failed to archive run result", "run_id", runID, "error", err)
		}
	}
	return result, runErr
}

// abort reports a run that failed before its agent started, so stream
// subscribers waiting on runID still see a terminal event.
func (s *Service) abort(ctx context.Context, runID string, err error) {
	s.logger.Error("Run aborted before start", "run_id", runID, "error", err)
	if s.sink == nil {
		return
	}
	event := Event{
		RunID:     runID,
		Seq:       1,
		Type:      EventRunFailed,
		Timestamp: time.Now().UTC(),
		Content:   err.Error(),
	}
	if pubErr := s.sink.Publish(context.WithoutCancel(ctx), event); pubErr != nil {
		s.logger.Warn("failed to publish run event", "type", event.Type, "error", pubErr)
	}
}

// recorder archives every appended message.
func (s *Service) recorder() EventSink {
	if s.repo == nil {
		return nil
	}
	return SinkFunc(func(ctx context.Context, event Event) error {
		if event.Type != EventMessage || event.Message == nil {
			return nil
		}
		return s.repo.AppendMessage(context.WithoutCancel(ctx), &domain.StoredMessage{
			RunID:     event.RunID,
			Seq:       event.Index,
			Role:      event.Message.Role,
			Content:   event.Message.Content,
			CreatedAt: event.Timestamp,
		})
	})
}
