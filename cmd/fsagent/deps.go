package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/ashureev/fsagent/internal/agent"
	"github.com/ashureev/fsagent/internal/config"
	"github.com/ashureev/fsagent/internal/llm"
	"github.com/ashureev/fsagent/internal/sandbox"
	"github.com/ashureev/fsagent/internal/store"
	"github.com/ashureev/fsagent/internal/tools"
)

// loadConfig reads .env and the environment. Flag overrides are applied by
// the caller before validation.
func loadConfig(logger *slog.Logger, override func(*config.Config)) (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

// deps holds the dependencies shared by run and serve.
type deps struct {
	cfg          *config.Config
	exec         *tools.Executor
	model        *llm.Client
	repo         store.Repository
	conversation agent.ConversationLogger
	systemPrompt string
}

func newDeps(cfg *config.Config, logger *slog.Logger) (*deps, error) {
	var opts []sandbox.Option
	if cfg.Workspace.ResolveSymlinks {
		opts = append(opts, sandbox.WithSymlinkHardening())
	}
	sb, err := sandbox.New(cfg.Workspace.Root, opts...)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	model, err := llm.New(llm.Config{
		BaseURL: cfg.Model.BaseURL,
		Model:   cfg.Model.Name,
		APIKey:  cfg.Model.APIKey,
		Timeout: cfg.Model.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}

	prompt, err := agent.LoadSystemPrompt(cfg.Agent.SystemPromptFile, sb.Root())
	if err != nil {
		return nil, err
	}

	rt := &deps{
		cfg:          cfg,
		exec:         tools.NewExecutor(sb, logger),
		model:        model,
		systemPrompt: prompt,
	}

	if cfg.StoreEnabled {
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		rt.repo = repo
	}

	rt.conversation, err = agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("initialize conversation logger: %w", err), rt.Close())
	}

	logger.Info("Workspace ready", "root", sb.Root(), "model", cfg.Model.Name, "store", cfg.StoreEnabled)
	return rt, nil
}

// service builds a run service publishing to sink in addition to the
// conversation log.
func (rt *deps) service(sink agent.EventSink, logger *slog.Logger) *agent.Service {
	return agent.NewService(rt.model, rt.exec, rt.repo,
		agent.Sinks(agent.NewConversationLogSink(rt.conversation), sink),
		agent.ServiceConfig{
			ModelName:     rt.model.Model(),
			MaxIterations: rt.cfg.Agent.MaxIterations,
			SystemPrompt:  rt.systemPrompt,
		}, logger)
}

func (rt *deps) Close() error {
	var errs []error
	if rt.conversation != nil {
		errs = append(errs, rt.conversation.Close())
	}
	if rt.repo != nil {
		errs = append(errs, rt.repo.Close())
	}
	return errors.Join(errs...)
}
