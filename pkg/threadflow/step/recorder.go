package step

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
	"github.com/randalmurphal/threadflow/pkg/threadflow/history"
	"github.com/randalmurphal/threadflow/pkg/threadflow/observability"
)

// Recorder is the step table of one run namespace.
//
// A Recorder must be the only writer to its namespace. It is safe for
// concurrent use with distinct keys.
type Recorder struct {
	log       *history.Log
	namespace string
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager

	mu       sync.Mutex
	entries  map[string]Entry
	inflight map[string]bool
	executed int
	replayed int
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(r *Recorder) {
		r.spans = s
	}
}

// Open loads the step table for namespace from the log.
// A malformed step record is a corruption error.
func Open(ctx context.Context, log *history.Log, namespace string, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		log:       log,
		namespace: namespace,
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
		entries:   make(map[string]Entry),
		inflight:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}

	records, err := log.ReadAll(ctx, namespace)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Kind != history.KindStepResult {
			continue
		}
		var e Entry
		if err := rec.Decode(&e); err != nil || e.Key == "" {
			if err == nil {
				err = ErrEmptyKey
			}
			return nil, tferrors.Corruption(
				fmt.Errorf("%w: step record %d: %v", history.ErrCorruptRecord, rec.Sequence, err),
				"open step recorder")
		}
		r.entries[e.Key] = e
	}

	for key, e := range r.entries {
		if e.Status == StatusPending && !e.Cleared {
			observability.LogStepInterrupted(r.logger, key)
		}
	}
	return r, nil
}

// Namespace returns the run namespace.
func (r *Recorder) Namespace() string {
	return r.namespace
}

// Lookup returns the latest entry for key.
func (r *Recorder) Lookup(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

// Len returns the number of keys with a completed or failed outcome.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Status != StatusPending {
			n++
		}
	}
	return n
}

// Stats reports how many invocations ran their operation and how many
// were answered from the log since Open.
func (r *Recorder) Stats() (executed, replayed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executed, r.replayed
}

// Clear makes a failed step runnable again. Clearing a step with no
// outcome is a no-op; clearing a completed step is refused.
func (r *Recorder) Clear(ctx context.Context, key string) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()

	if !ok || e.Status == StatusPending {
		return nil
	}
	if e.Status == StatusCompleted {
		return fmt.Errorf("%w: %s", ErrStepCompleted, key)
	}

	cleared := Entry{Key: key, Status: StatusPending, Cleared: true}
	if err := r.append(ctx, cleared); err != nil {
		return err
	}
	r.logger.Info("step cleared", slog.String("step_key", key))
	return nil
}

func (r *Recorder) append(ctx context.Context, e Entry) error {
	if _, err := r.log.AppendValue(ctx, r.namespace, history.KindStepResult, e); err != nil {
		return err
	}
	r.mu.Lock()
	r.entries[e.Key] = e
	r.mu.Unlock()
	return nil
}

// begin claims key for execution, or returns the recorded outcome.
func (r *Recorder) begin(key string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inflight[key] {
		return Entry{}, false, fmt.Errorf("%w: %s", ErrStepInFlight, key)
	}
	if e, ok := r.entries[key]; ok && e.Status != StatusPending {
		r.replayed++
		return e, true, nil
	}
	r.inflight[key] = true
	return Entry{}, false, nil
}

func (r *Recorder) finish(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, key)
	r.executed++
}

// Do runs fn at most once for key within the recorder's namespace.
//
// If key has a completed entry, its result is decoded and returned
// without calling fn. If key has a failed entry, the recorded failure is
// returned as a *FailedError without calling fn. Otherwise a pending
// entry is written, fn runs, and its outcome is recorded before Do
// returns.
//
// Failures caused by cancellation of ctx or by the durability layer are
// not recorded, so the step runs again when the workflow resumes.
func Do[T any](ctx context.Context, r *Recorder, key string, fn func(context.Context) (T, error)) (result T, err error) {
	var zero T
	if key == "" {
		return zero, ErrEmptyKey
	}

	ctx, span := r.spans.StartStepSpan(ctx, key)
	defer func() { r.spans.EndSpanWithError(span, err) }()

	entry, recorded, err := r.begin(key)
	if err != nil {
		return zero, err
	}
	if recorded {
		return replay[T](ctx, r, entry)
	}
	defer r.finish(key)

	if err := r.append(ctx, Entry{Key: key, Status: StatusPending}); err != nil {
		return zero, err
	}

	start := time.Now()
	value, opErr := fn(ctx)
	elapsed := time.Since(start)

	if opErr != nil {
		if ctx.Err() != nil || errors.Is(opErr, context.Canceled) || tferrors.IsFatal(opErr) {
			return zero, opErr
		}
		observability.LogStepFailed(r.logger, key, opErr)
		r.metrics.RecordStep(ctx, Name(key), observability.OutcomeFailed, elapsed)
		if err := r.append(ctx, Entry{Key: key, Status: StatusFailed, Failure: failureFrom(opErr)}); err != nil {
			return zero, err
		}
		return zero, &FailedError{Key: key, Err: opErr}
	}

	payload, err := history.Encode(value)
	if err != nil {
		return zero, fmt.Errorf("encode result of step %s: %w", key, err)
	}
	if err := r.append(ctx, Entry{Key: key, Status: StatusCompleted, Result: payload}); err != nil {
		return zero, err
	}

	observability.LogStepExecuted(r.logger, key, float64(elapsed.Milliseconds()))
	r.metrics.RecordStep(ctx, Name(key), observability.OutcomeExecuted, elapsed)
	return value, nil
}

func replay[T any](ctx context.Context, r *Recorder, e Entry) (T, error) {
	var zero T

	observability.LogStepReplayed(r.logger, e.Key)
	r.metrics.RecordStep(ctx, Name(e.Key), observability.OutcomeReplayed, 0)
	r.spans.AddSpanEvent(ctx, "step.replayed")

	if e.Status == StatusFailed {
		f := e.Failure
		if f == nil {
			f = &Failure{Message: "unknown failure", Category: tferrors.CategoryPermanent.String()}
		}
		return zero, &FailedError{Key: e.Key, Replayed: true, Err: f.asError()}
	}

	var value T
	if err := history.Decode(e.Result, &value); err != nil {
		return zero, tferrors.Corruption(
			fmt.Errorf("%w: result of step %s: %v", history.ErrCorruptRecord, e.Key, err),
			"replay step")
	}
	return value, nil
}
