// Package app wires the marketforge dependency graph and runs the configured
// operating mode: the HTTP API, the stage-worker pipeline, both in one
// process, or a single worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quorumlabs/marketforge/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// the cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the configured mode and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	mode := strings.ToLower(a.cfg.Mode)
	switch {
	case mode == "api":
		return a.APIMode(ctx, deps)
	case mode == "pipeline":
		return a.PipelineMode(ctx, deps)
	case mode == "full":
		return a.FullMode(ctx, deps)
	case strings.HasPrefix(mode, "worker:"):
		return a.WorkerMode(ctx, deps, strings.TrimPrefix(mode, "worker:"))
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
