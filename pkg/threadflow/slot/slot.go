// Package slot persists which agent is active in a thread.
//
// The slot is read when acquired and written back when released. A crash
// between Set and Close loses the update; the next Open sees the last
// value that was written back.
package slot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
	"github.com/randalmurphal/threadflow/pkg/threadflow/history"
)

// Value is the persisted slot payload.
type Value struct {
	ThreadID  int64  `cbor:"thread_id"`
	AgentName string `cbor:"agent"`
}

// Namespace returns the history namespace for a thread's slot.
func Namespace(threadID int64) string {
	return "agent/" + strconv.FormatInt(threadID, 10)
}

// Slot holds the active agent name for one thread.
type Slot struct {
	log       *history.Log
	threadID  int64
	namespace string
	logger    *slog.Logger

	mu        sync.Mutex
	value     string
	persisted string
	closed    bool
}

// Option configures a Slot.
type Option func(*Slot)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Slot) {
		s.logger = logger
	}
}

// Open acquires the slot for threadID. The value is the last one written
// back, or "" if none was.
func Open(ctx context.Context, log *history.Log, threadID int64, opts ...Option) (*Slot, error) {
	s := &Slot{
		log:       log,
		threadID:  threadID,
		namespace: Namespace(threadID),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	rec, ok, err := log.Latest(ctx, s.namespace, history.KindSlotValue)
	if err != nil {
		return nil, err
	}
	if ok {
		var v Value
		if err := rec.Decode(&v); err != nil {
			return nil, tferrors.Corruption(
				fmt.Errorf("%w: slot value %d: %v", history.ErrCorruptRecord, rec.Sequence, err),
				"open agent slot")
		}
		s.value = v.AgentName
		s.persisted = v.AgentName
	}
	return s, nil
}

// Get returns the current value.
func (s *Slot) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the current value. It is not durable until Close.
func (s *Slot) Set(agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = agent
}

// Close writes the value back if it changed since Open. It ignores ctx
// cancellation so release always flushes. Once Close succeeds, further
// calls do nothing.
func (s *Slot) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if s.value == s.persisted {
		s.closed = true
		return nil
	}

	v := Value{ThreadID: s.threadID, AgentName: s.value}
	if _, err := s.log.AppendValue(context.WithoutCancel(ctx), s.namespace, history.KindSlotValue, v); err != nil {
		return err
	}
	s.persisted = s.value
	s.closed = true
	s.logger.Debug("agent slot written",
		slog.Int64("thread_id", s.threadID),
		slog.String("agent", s.value),
	)
	return nil
}
