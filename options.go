package loom

import (
	"log/slog"

	"github.com/loomhq/loom/state"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the default configuration. Ignored when an
// explicit state manager is also supplied.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.config = cfg }
}

// WithStateManager sets the state manager that decides how checkpoint
// data is persisted between invocations.
func WithStateManager(m *state.Manager) Option {
	return func(o *Orchestrator) { o.manager = m }
}

// WithLogger sets the structured logger for the orchestrator.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}
