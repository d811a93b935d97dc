package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashureev/fsagent/internal/config"
)

const defaultTask = "create a text file in the workspace with the contents 'hello world'"

type runOptions struct {
	root          string
	model         string
	baseURL       string
	maxIterations int
	noStore       bool
	verbose       bool
}

func newRunCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Run one task to completion and print the final answer",
		Long: `Run one task to completion and print the final answer.

Without arguments the agent is asked to create a hello world file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, args, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.root, "root", "", "workspace root (overrides WORKSPACE_ROOT)")
	flags.StringVar(&opts.model, "model", "", "model name (overrides MODEL_NAME)")
	flags.StringVar(&opts.baseURL, "base-url", "", "OpenAI-compatible base URL (overrides MODEL_BASE_URL)")
	flags.IntVar(&opts.maxIterations, "max-iterations", 0, "model call budget (overrides AGENT_MAX_ITERATIONS)")
	flags.BoolVar(&opts.noStore, "no-store", false, "do not archive the run in the database")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func (o runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Workspace.Root = o.root
	}
	if flags.Changed("model") {
		cfg.Model.Name = o.model
	}
	if flags.Changed("base-url") {
		cfg.Model.BaseURL = o.baseURL
	}
	if flags.Changed("max-iterations") {
		cfg.Agent.MaxIterations = o.maxIterations
	}
	if o.noStore {
		cfg.StoreEnabled = false
	}
}

func runAction(cmd *cobra.Command, args []string, opts runOptions) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := newConsoleLogger(cmd.ErrOrStderr(), level)
	slog.SetDefault(logger)

	cfg, err := loadConfig(logger, func(cfg *config.Config) { opts.apply(cmd, cfg) })
	if err != nil {
		return err
	}

	rt, err := newDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Error("Failed to close dependencies", "error", closeErr)
		}
	}()

	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "" {
		task = defaultTask
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting run", "task", task)
	result, err := rt.service(nil, logger).Run(ctx, task)
	if err != nil {
		return fmt.Errorf("run %s: %w", result.RunID, err)
	}
	logger.Info("Run completed", "run_id", result.RunID, "iterations", result.Iterations)

	_, err = fmt.Fprintln(cmd.OutOrStdout(), result.FinalAnswer)
	return err
}
