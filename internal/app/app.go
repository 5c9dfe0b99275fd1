// Package app provides the top-level application lifecycle for the product
// ledger. It wires the stores, caches, blob storage and notifications, builds
// the ledger service and starts the goroutines of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/shproduct/internal/config"
)

// runner starts one operating mode and blocks until ctx ends.
type runner func(ctx context.Context, deps *Dependencies) error

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	modes   map[string]runner
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	a := &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
	a.modes = map[string]runner{
		"server": a.ServerMode,
		"full":   a.FullMode,
	}
	return a
}

// Run resolves the mode, wires its dependencies and blocks in the mode
// until ctx is cancelled. An unknown mode fails before anything is dialled.
// Resources are released by Close.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := a.modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int64("chain_id", a.cfg.Chain.ChainID),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if len(deps.Checks) > 0 {
		names := make([]string, 0, len(deps.Checks))
		for name := range deps.Checks {
			names = append(names, name)
		}
		a.logger.InfoContext(ctx, "dependencies connected", slog.Any("checks", names))
	}

	return run(ctx, deps)
}

// Close releases wired resources, newest first. Later calls do nothing.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
