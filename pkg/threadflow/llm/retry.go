package llm

import (
	"context"
	"log/slog"
	"time"

	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
	"github.com/randalmurphal/threadflow/pkg/threadflow/observability"
)

// Retrying wraps a Completer with a retry protocol. The error it returns
// after the last attempt is the terminal outcome a step records.
type Retrying struct {
	inner    Completer
	protocol tferrors.RetryProtocol
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
}

// RetryOption configures Retrying.
type RetryOption func(*Retrying)

// WithRetryLogger sets the logger used for retry warnings.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(r *Retrying) { r.logger = logger }
}

// WithRetryMetrics sets the metrics recorder.
func WithRetryMetrics(m observability.MetricsRecorder) RetryOption {
	return func(r *Retrying) { r.metrics = m }
}

// NewRetrying wraps inner with protocol.
func NewRetrying(inner Completer, protocol tferrors.RetryProtocol, opts ...RetryOption) *Retrying {
	r := &Retrying{
		inner:    inner,
		protocol: protocol,
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Complete implements Completer.
func (r *Retrying) Complete(ctx context.Context, req Request) (*Response, error) {
	p := r.protocol
	hook := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.logger.Warn("completion failed, retrying",
			slog.String("model", req.Model),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if hook != nil {
			hook(attempt, delay, err)
		}
	}

	res := tferrors.WithRetryContext(ctx, p, func(ctx context.Context) (*Response, error) {
		return r.inner.Complete(ctx, req)
	})

	tokens := 0
	if res.Value != nil {
		tokens = res.Value.Usage.TotalTokens
	}
	r.metrics.RecordCompletion(ctx, req.Model, res.Attempts, tokens, res.Err)

	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}
