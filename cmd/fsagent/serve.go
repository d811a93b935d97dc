package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/ashureev/fsagent/internal/agent"
	"github.com/ashureev/fsagent/internal/api"
	"github.com/ashureev/fsagent/internal/config"
	"github.com/ashureev/fsagent/internal/middleware"
	"github.com/ashureev/fsagent/internal/store"
	"github.com/ashureev/fsagent/internal/stream"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API and live event stream over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveAction(cmd, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT, default 8081)")
	return cmd
}

func serveAction(cmd *cobra.Command, port string) error {
	logger := newJSONLogger(os.Stdout, slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := loadConfig(logger, func(cfg *config.Config) {
		if cmd.Flags().Changed("port") {
			cfg.Port = port
		}
	})
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	rt, err := newDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Error("Failed to close dependencies", "error", closeErr)
		}
	}()

	if err := recoverRuns(cmd.Context(), rt.repo); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := stream.NewHub(stream.HubConfig{}, logger)
	svc := rt.service(hub, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(ctx, cfg, rt.repo, svc, hub, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket streams stay open for the whole run
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	// Runs are bound to ctx and stop at their next iteration.
	svc.Wait()

	slog.Info("Server stopped successfully")
	return nil
}

// recoverRuns checks the database and fails runs a previous process left
// in the running state.
func recoverRuns(ctx context.Context, repo store.Repository) error {
	if repo == nil {
		slog.Info("Run archive disabled")
		return nil
	}
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	slog.Info("Database connected")

	n, err := repo.FailInterruptedRuns(ctx)
	if err != nil {
		return fmt.Errorf("fail interrupted runs: %w", err)
	}
	if n > 0 {
		slog.Warn("Marked interrupted runs as failed", "count", n)
	}
	return nil
}

func newRouter(runCtx context.Context, cfg *config.Config, repo store.Repository, svc *agent.Service, hub *stream.Hub, logger *slog.Logger) http.Handler {
	base := api.NewHandler(runCtx, repo, svc, logger)
	var runs stream.RunFinder
	if repo != nil {
		runs = repo
	}
	wsHandler := stream.NewWebSocketHandler(hub, svc, runs, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	api.NewHealthHandler(base).RegisterHealth(r)
	api.NewRunsHandler(base).RegisterRoutes(r)
	r.Get("/ws/runs/{id}", wsHandler.ServeHTTP)

	return r
}
