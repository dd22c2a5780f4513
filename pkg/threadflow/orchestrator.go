package threadflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/randalmurphal/threadflow/pkg/threadflow/agent"
	"github.com/randalmurphal/threadflow/pkg/threadflow/chat"
	"github.com/randalmurphal/threadflow/pkg/threadflow/config"
	"github.com/randalmurphal/threadflow/pkg/threadflow/history"
	"github.com/randalmurphal/threadflow/pkg/threadflow/llm"
	"github.com/randalmurphal/threadflow/pkg/threadflow/observability"
	"github.com/randalmurphal/threadflow/pkg/threadflow/queue"
	"github.com/randalmurphal/threadflow/pkg/threadflow/slot"
	"github.com/randalmurphal/threadflow/pkg/threadflow/step"
)

// Thread identifies one conversation. A thread is itself a chat channel:
// its queue, agent slot and step table are all keyed by ID.
type Thread struct {
	// ID is the thread's channel ID.
	ID int64
	// ChannelID is the parent channel the thread was opened in.
	ChannelID int64
}

// RunNamespace returns the history namespace of a thread's step table.
func RunNamespace(threadID int64) string {
	return "run/" + strconv.FormatInt(threadID, 10)
}

// Orchestrator drives Socratic dialogue sessions over durable state.
// It is safe for concurrent use; each thread must have at most one open
// Session at a time.
type Orchestrator struct {
	log       *history.Log
	completer llm.Completer
	messenger chat.Messenger
	agents    *agent.Registry
	settings  config.Settings

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// New creates an Orchestrator. Completions go through completer wrapped
// with the configured retry protocol.
func New(log *history.Log, completer llm.Completer, messenger chat.Messenger, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		log:       log,
		messenger: messenger,
		settings:  config.Default(),
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := o.settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if o.agents == nil {
		reg, err := o.settings.Registry()
		if err != nil {
			return nil, err
		}
		o.agents = reg
	}
	if o.agents.Len() == 0 {
		return nil, fmt.Errorf("%w: no agents registered", agent.ErrUnknownAgent)
	}

	o.completer = llm.NewRetrying(completer, o.settings.Retry,
		llm.WithRetryLogger(o.logger),
		llm.WithRetryMetrics(o.metrics),
	)
	return o, nil
}

// Settings returns the active settings.
func (o *Orchestrator) Settings() config.Settings {
	return o.settings
}

// Agents returns the agent registry.
func (o *Orchestrator) Agents() *agent.Registry {
	return o.agents
}

// Open acquires a thread's queue, agent slot and step table and returns
// a session ready to Run. The caller must Close the session on every
// exit path.
func (o *Orchestrator) Open(ctx context.Context, thread Thread) (*Session, error) {
	logger := observability.EnrichLogger(o.logger, thread.ID, thread.ChannelID)

	q, err := queue.Open[chat.Message](ctx, o.log, thread.ID,
		queue.WithLogger(logger),
		queue.WithMetrics(o.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	sl, err := slot.Open(ctx, o.log, thread.ID, slot.WithLogger(logger))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open agent slot: %w", err), q.Close(ctx))
	}

	steps, err := step.Open(ctx, o.log, RunNamespace(thread.ID),
		step.WithLogger(logger),
		step.WithMetrics(o.metrics),
		step.WithSpans(o.spans),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open step table: %w", err), q.Close(ctx), sl.Close(ctx))
	}

	return &Session{
		o:        o,
		thread:   thread,
		logger:   logger,
		queue:    q,
		slot:     sl,
		steps:    steps,
		consumed: make(map[string]bool),
	}, nil
}

// Reset deletes every record of a thread: its step table, queue and
// agent slot. The thread must not have an open session.
func (o *Orchestrator) Reset(ctx context.Context, threadID int64) error {
	for _, ns := range []string{RunNamespace(threadID), queue.Namespace(threadID), slot.Namespace(threadID)} {
		if err := o.log.Clear(ctx, ns); err != nil {
			return fmt.Errorf("reset thread %d: %w", threadID, err)
		}
	}
	o.logger.Info("thread reset", slog.Int64("thread_id", threadID))
	return nil
}
