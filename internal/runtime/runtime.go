// Package runtime wires configuration into a running tester: registry,
// completion gateway, orchestrator and HTTP server, with their lifecycle.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-llm-tester/internal/config"
	"github.com/tjfontaine/polyglot-llm-tester/internal/gateway"
	"github.com/tjfontaine/polyglot-llm-tester/internal/orchestrator"
	"github.com/tjfontaine/polyglot-llm-tester/internal/registry"
	"github.com/tjfontaine/polyglot-llm-tester/internal/server"
	"github.com/tjfontaine/polyglot-llm-tester/internal/telemetry"
	"github.com/tjfontaine/polyglot-llm-tester/internal/tokens"
)

// App holds the wired components. The exported fields are read-only after New.
type App struct {
	Registry     *registry.Registry
	Gateway      *gateway.Gateway
	Orchestrator *orchestrator.Orchestrator
	Estimator    *tokens.Estimator

	cfg       *config.Config
	logger    *slog.Logger
	observers []orchestrator.Observer
	server    *server.Server

	shutdownTracer telemetry.ShutdownFunc

	mu      sync.Mutex
	started bool
}

// New validates cfg and builds every component. A configuration error is
// returned before anything is queried.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(app)
	}

	if cfg.Telemetry.Tracing {
		shutdown, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, app.logger)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		app.shutdownTracer = shutdown
	}

	reg, err := registry.FromConfig(cfg.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	app.Registry = reg

	app.Gateway, err = gateway.NewFromConfig(cfg.Upstream, reg, gateway.WithLogger(app.logger))
	if err != nil {
		return nil, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(app.logger),
		orchestrator.WithMaxConcurrency(cfg.Orchestrator.MaxConcurrency),
	}
	for _, fn := range app.observers {
		orchOpts = append(orchOpts, orchestrator.WithObserver(fn))
	}
	app.Orchestrator = orchestrator.New(reg, app.Gateway, orchOpts...)
	app.Estimator = tokens.NewEstimator()

	app.server = server.New(cfg.Server.Port, app.logger)
	app.server.Mount(server.NewHandlers(reg, app.Gateway, app.Orchestrator, app.Estimator, app.logger))

	app.logger.Info("tester initialized",
		slog.Int("endpoints", reg.Len()),
		slog.String("upstream", cfg.Upstream.BaseURL),
		slog.Duration("upstream_timeout", cfg.Upstream.Timeout),
		slog.Bool("tracing", cfg.Telemetry.Tracing),
	)
	return app, nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.server.Router
}

// Run serves HTTP until ctx is done or the server fails, then shuts down
// within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("already started")
	}
	a.started = true
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error("server failed", slog.String("error", serveErr.Error()))
		}
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

// Shutdown stops the HTTP server and flushes pending spans.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		firstErr = err
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.logger.Info("shutdown complete")
	return firstErr
}
