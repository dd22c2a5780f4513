// Package queue implements the per-channel FIFO whose contents survive
// restarts through snapshots in the history log.
//
// Usage:
//
//	q, err := queue.Open[Message](ctx, log, channelID)
//	if err != nil {
//	    return err
//	}
//	defer q.Close(ctx) // always stashes, even after cancellation
//
//	q.Put(msg)
//	next, err := q.GetTimeout(ctx, idleTimeout)
package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
	"github.com/randalmurphal/threadflow/pkg/threadflow/history"
	"github.com/randalmurphal/threadflow/pkg/threadflow/observability"
)

// Sentinel errors for queue operations.
var (
	// ErrTimeout indicates GetTimeout's per-wait deadline elapsed.
	ErrTimeout = errors.New("queue wait timed out")

	// ErrClosed indicates the queue has been closed.
	ErrClosed = errors.New("queue closed")
)

// Snapshot is the persisted form of the queue's contents.
type Snapshot struct {
	ChannelID int64    `cbor:"channel_id"`
	Items     [][]byte `cbor:"items"`
}

// Namespace returns the history namespace for a channel's queue.
func Namespace(channelID int64) string {
	return "queue/" + strconv.FormatInt(channelID, 10)
}

// Queue is an unbounded FIFO of T scoped to one channel.
//
// Items are encoded with the history codec when stashed, so T must
// round-trip through it. Queue is safe for concurrent use.
type Queue[T any] struct {
	log       *history.Log
	channelID int64
	namespace string
	logger    *slog.Logger
	metrics   observability.MetricsRecorder

	mu      sync.Mutex
	items   []T
	waiters []chan T
	closed  bool
	done    chan struct{}

	// stashMu serializes snapshots; persisted is the last snapshot
	// written to (or read from) the log.
	stashMu   sync.Mutex
	persisted []byte
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Open acquires the queue for channelID, rehydrating it from the latest
// snapshot in the log. The caller must Close it on every exit path.
func Open[T any](ctx context.Context, log *history.Log, channelID int64, opts ...Option) (*Queue[T], error) {
	o := options{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	q := &Queue[T]{
		log:       log,
		channelID: channelID,
		namespace: Namespace(channelID),
		logger:    o.logger,
		metrics:   o.metrics,
		done:      make(chan struct{}),
	}

	rec, ok, err := log.Latest(ctx, q.namespace, history.KindQueueState)
	if err != nil {
		return nil, err
	}
	if !ok {
		q.persisted, err = q.encode()
		if err != nil {
			return nil, err
		}
		return q, nil
	}

	var snap Snapshot
	if err := rec.Decode(&snap); err != nil {
		return nil, corrupt(rec.Sequence, err)
	}
	q.items = make([]T, 0, len(snap.Items))
	for i, raw := range snap.Items {
		var item T
		if err := history.Decode(raw, &item); err != nil {
			return nil, corrupt(rec.Sequence, fmt.Errorf("item %d: %w", i, err))
		}
		q.items = append(q.items, item)
	}
	q.persisted = rec.Payload

	q.logger.Debug("queue rehydrated",
		slog.String("namespace", q.namespace),
		slog.Int("items", len(q.items)),
	)
	return q, nil
}

func corrupt(seq uint64, err error) error {
	return tferrors.Corruption(
		fmt.Errorf("%w: queue snapshot %d: %v", history.ErrCorruptRecord, seq, err),
		"rehydrate queue")
}

// ChannelID returns the channel the queue belongs to.
func (q *Queue[T]) ChannelID() int64 {
	return q.channelID
}

// Put appends item. It never blocks.
func (q *Queue[T]) Put(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.dispatch()
	return nil
}

// dispatch hands queued items to waiters in arrival order.
// Callers must hold q.mu.
func (q *Queue[T]) dispatch() {
	for len(q.waiters) > 0 && len(q.items) > 0 {
		ch := q.waiters[0]
		q.waiters = q.waiters[1:]
		item := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		ch <- item // buffered, never blocks
	}
}

// Get removes and returns the oldest item, waiting until one is
// available. Concurrent waiters are served in the order they called Get.
// If ctx ends first, no item is lost.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return zero, ErrClosed
	}
	if len(q.waiters) == 0 && len(q.items) > 0 {
		item := q.items[0]
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()
		return item, nil
	}
	ch := make(chan T, 1)
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case item := <-ch:
		return item, nil
	case <-ctx.Done():
		q.abandon(ch)
		return zero, ctx.Err()
	case <-q.done:
		// An item handed over before Close is still delivered.
		select {
		case item := <-ch:
			return item, nil
		default:
		}
		q.abandon(ch)
		return zero, ErrClosed
	}
}

// abandon removes a waiter. If an item was already handed to it, the
// item goes back to the front of the queue.
func (q *Queue[T]) abandon(ch chan T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
	select {
	case item := <-ch:
		q.items = append([]T{item}, q.items...)
		q.dispatch()
	default:
	}
}

// GetTimeout is Get bounded by a per-wait deadline. It returns
// ErrTimeout if d elapses first, or ctx's error if ctx ends first.
func (q *Queue[T]) GetTimeout(ctx context.Context, d time.Duration) (T, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	item, err := q.Get(waitCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return item, ErrTimeout
	}
	return item, err
}

// IsEmpty reports whether no items are queued.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the queued items, oldest first.
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]T(nil), q.items...)
}

// Clear drops all queued items and deletes the channel's history.
func (q *Queue[T]) Clear(ctx context.Context) error {
	q.stashMu.Lock()
	defer q.stashMu.Unlock()

	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()

	if err := q.log.Clear(ctx, q.namespace); err != nil {
		return err
	}
	empty, err := history.Encode(Snapshot{ChannelID: q.channelID, Items: [][]byte{}})
	if err != nil {
		return err
	}
	q.persisted = empty
	return nil
}

// encode builds the snapshot payload for the current contents.
func (q *Queue[T]) encode() ([]byte, error) {
	q.mu.Lock()
	items := append([]T(nil), q.items...)
	q.mu.Unlock()

	snap := Snapshot{ChannelID: q.channelID, Items: make([][]byte, 0, len(items))}
	for i, item := range items {
		raw, err := history.Encode(item)
		if err != nil {
			return nil, fmt.Errorf("encode queue item %d: %w", i, err)
		}
		snap.Items = append(snap.Items, raw)
	}
	return history.Encode(snap)
}

// Stash appends a snapshot of the current contents to the log without
// disturbing them. Nothing is written if the contents equal the last
// persisted snapshot.
func (q *Queue[T]) Stash(ctx context.Context) error {
	q.stashMu.Lock()
	defer q.stashMu.Unlock()

	payload, err := q.encode()
	if err != nil {
		return err
	}
	if bytes.Equal(payload, q.persisted) {
		return nil
	}

	if _, err := q.log.Append(ctx, q.namespace, history.KindQueueState, payload); err != nil {
		return err
	}
	q.persisted = payload

	n := q.Len()
	observability.LogSnapshot(q.logger, q.namespace, n, len(payload))
	q.metrics.RecordSnapshot(ctx, "queue", n, int64(len(payload)))
	return nil
}

// Close releases the queue: it stashes the contents with a context that
// ignores cancellation, then wakes any waiters with ErrClosed.
// Close is idempotent; only the first call stashes.
func (q *Queue[T]) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	return q.Stash(context.WithoutCancel(ctx))
}
