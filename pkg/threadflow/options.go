package threadflow

import (
	"log/slog"

	"github.com/randalmurphal/threadflow/pkg/threadflow/agent"
	"github.com/randalmurphal/threadflow/pkg/threadflow/config"
	"github.com/randalmurphal/threadflow/pkg/threadflow/observability"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettings replaces the default settings.
// Default: config.Default()
func WithSettings(s config.Settings) Option {
	return func(o *Orchestrator) {
		o.settings = s
	}
}

// WithRegistry sets the agent registry. Without it the registry is
// built from the settings' agents.
func WithRegistry(r *agent.Registry) Option {
	return func(o *Orchestrator) {
		o.agents = r
	}
}

// WithLogger sets the logger for sessions and their components.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics.
//
// Example:
//
//	orch, err := threadflow.New(log, completer, messenger, threadflow.WithMetrics(true))
func WithMetrics(enabled bool) Option {
	return func(o *Orchestrator) {
		if enabled {
			o.metrics = observability.NewMetricsRecorder()
		} else {
			o.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans for sessions and steps.
func WithTracing(enabled bool) Option {
	return func(o *Orchestrator) {
		if enabled {
			o.spans = observability.NewSpanManager()
		} else {
			o.spans = observability.NoopSpanManager{}
		}
	}
}
