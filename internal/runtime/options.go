package runtime

import (
	"log/slog"

	"github.com/tjfontaine/polyglot-llm-tester/internal/orchestrator"
)

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithObserver registers an orchestrator transition observer.
func WithObserver(fn orchestrator.Observer) Option {
	return func(a *App) {
		if fn != nil {
			a.observers = append(a.observers, fn)
		}
	}
}
