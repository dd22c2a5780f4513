package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Step outcomes reported to RecordStep.
const (
	OutcomeExecuted = "executed"
	OutcomeReplayed = "replayed"
	OutcomeFailed   = "failed"
)

// MetricsRecorder records threadflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStep records one step invocation and how it was satisfied.
	RecordStep(ctx context.Context, name, outcome string, duration time.Duration)

	// RecordSession records a finished session.
	RecordSession(ctx context.Context, reason string, turns int, duration time.Duration)

	// RecordSnapshot records a queue or slot snapshot write.
	RecordSnapshot(ctx context.Context, kind string, items int, sizeBytes int64)

	// RecordCompletion records a completion call after retries.
	RecordCompletion(ctx context.Context, model string, attempts, totalTokens int, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	steps          metric.Int64Counter
	stepLatency    metric.Float64Histogram
	sessions       metric.Int64Counter
	sessionTurns   metric.Int64Histogram
	snapshotSize   metric.Int64Histogram
	completions    metric.Int64Counter
	completionTok  metric.Int64Counter
	completionAtts metric.Int64Histogram
}

func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	steps, err := meter.Int64Counter("threadflow.step.invocations",
		metric.WithDescription("Number of step invocations by outcome"),
	)
	if err != nil {
		return nil, err
	}

	stepLatency, err := meter.Float64Histogram("threadflow.step.latency_ms",
		metric.WithDescription("Step latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	sessions, err := meter.Int64Counter("threadflow.session.closed",
		metric.WithDescription("Number of sessions closed by reason"),
	)
	if err != nil {
		return nil, err
	}

	sessionTurns, err := meter.Int64Histogram("threadflow.session.turns",
		metric.WithDescription("Turns completed per session"),
	)
	if err != nil {
		return nil, err
	}

	snapshotSize, err := meter.Int64Histogram("threadflow.snapshot.size_bytes",
		metric.WithDescription("Snapshot size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	completions, err := meter.Int64Counter("threadflow.completion.calls",
		metric.WithDescription("Number of completion calls"),
	)
	if err != nil {
		return nil, err
	}

	completionTok, err := meter.Int64Counter("threadflow.completion.tokens",
		metric.WithDescription("Total tokens reported by completions"),
	)
	if err != nil {
		return nil, err
	}

	completionAtts, err := meter.Int64Histogram("threadflow.completion.attempts",
		metric.WithDescription("Attempts per completion call including retries"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		steps:          steps,
		stepLatency:    stepLatency,
		sessions:       sessions,
		sessionTurns:   sessionTurns,
		snapshotSize:   snapshotSize,
		completions:    completions,
		completionTok:  completionTok,
		completionAtts: completionAtts,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses the global OTel
// meter provider. If instrument creation fails, returns a no-op recorder.
//
// Configure the provider before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := newOtelMetrics(otel.Meter("threadflow"))
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordStep records a step invocation.
func (m *otelMetrics) RecordStep(ctx context.Context, name, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("step", name),
		attribute.String("outcome", outcome),
	)
	m.steps.Add(ctx, 1, attrs)
	m.stepLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordSession records a finished session.
func (m *otelMetrics) RecordSession(ctx context.Context, reason string, turns int, _ time.Duration) {
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.sessions.Add(ctx, 1, attrs)
	m.sessionTurns.Record(ctx, int64(turns), attrs)
}

// RecordSnapshot records a snapshot write.
func (m *otelMetrics) RecordSnapshot(ctx context.Context, kind string, _ int, sizeBytes int64) {
	m.snapshotSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCompletion records a completion call.
func (m *otelMetrics) RecordCompletion(ctx context.Context, model string, attempts, totalTokens int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.Bool("success", err == nil),
	)
	m.completions.Add(ctx, 1, attrs)
	m.completionAtts.Record(ctx, int64(attempts), attrs)
	if totalTokens > 0 {
		m.completionTok.Add(ctx, int64(totalTokens), metric.WithAttributes(attribute.String("model", model)))
	}
}
