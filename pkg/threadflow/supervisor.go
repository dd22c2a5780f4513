package threadflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/threadflow/pkg/threadflow/chat"
)

// Result reports how a supervised session ended.
type Result struct {
	Thread Thread
	Reason CloseReason
	Err    error
}

// Supervisor routes chat events to sessions, running at most one
// session per thread and at most max_threads sessions at once.
type Supervisor struct {
	o      *Orchestrator
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	logger *slog.Logger

	onClose func(Result)

	mu       sync.Mutex
	sessions map[int64]*Session
	closing  bool
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// OnClose registers a callback invoked after each session has ended and
// been released.
func OnClose(fn func(Result)) SupervisorOption {
	return func(s *Supervisor) {
		s.onClose = fn
	}
}

// Supervise creates a Supervisor whose sessions run under ctx.
func (o *Orchestrator) Supervise(ctx context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(ctx)
	s := &Supervisor{
		o:        o,
		ctx:      ctx,
		cancel:   cancel,
		logger:   o.logger,
		sessions: make(map[int64]*Session),
	}
	s.group.SetLimit(o.settings.MaxThreads)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch delivers an event to its thread's session, starting one if
// needed. An event without a thread ID opens a new thread first.
func (s *Supervisor) Dispatch(ctx context.Context, ev chat.Event) (Thread, error) {
	thread := Thread{ID: ev.ThreadID, ChannelID: ev.ChannelID}
	if thread.ID == 0 {
		title := ev.Title
		if title == "" {
			title = titleFrom(ev.Message.Text)
		}
		id, err := s.o.messenger.CreateThread(ctx, ev.ChannelID, title)
		if err != nil {
			return thread, err
		}
		thread.ID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return thread, ErrShuttingDown
	}
	if sess, ok := s.sessions[thread.ID]; ok {
		return thread, sess.Deliver(ev.Message)
	}
	msg := ev.Message
	return thread, s.startLocked(ctx, thread, &msg)
}

// Start resumes a thread without a new message, e.g. after a restart to
// drain a rehydrated queue. Starting a running thread does nothing.
func (s *Supervisor) Start(ctx context.Context, thread Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return ErrShuttingDown
	}
	if _, ok := s.sessions[thread.ID]; ok {
		return nil
	}
	return s.startLocked(ctx, thread, nil)
}

// Active returns the number of running sessions.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// startLocked opens and launches a session. If no slot is free the
// session is closed again, which stashes msg for a later start.
// Callers must hold s.mu.
func (s *Supervisor) startLocked(ctx context.Context, thread Thread, msg *chat.Message) error {
	sess, err := s.o.Open(ctx, thread)
	if err != nil {
		return err
	}
	if msg != nil {
		if err := sess.Deliver(*msg); err != nil {
			return errors.Join(err, sess.Close(ctx))
		}
	}
	if !s.group.TryGo(func() error {
		s.run(sess)
		return nil
	}) {
		return errors.Join(ErrTooManyThreads, sess.Close(ctx))
	}
	s.sessions[thread.ID] = sess
	return nil
}

// run drives a session to completion and releases it. A session that
// went idle while a message was being delivered is reopened and run
// again on the same goroutine.
func (s *Supervisor) run(sess *Session) {
	for sess != nil {
		thread := sess.Thread()
		reason, err := sess.Run(s.ctx)

		var next *Session
		s.mu.Lock()
		closeErr := sess.Close(s.ctx)
		delete(s.sessions, thread.ID)
		if reason == CloseIdle && closeErr == nil && !s.closing && sess.Pending() > 0 {
			reopened, openErr := s.o.Open(s.ctx, thread)
			if openErr != nil {
				s.logger.Warn("could not restart thread with pending messages",
					slog.Int64("thread_id", thread.ID),
					slog.String("error", openErr.Error()),
				)
			} else {
				s.sessions[thread.ID] = reopened
				next = reopened
			}
		}
		s.mu.Unlock()

		if closeErr != nil {
			err = errors.Join(err, closeErr)
			s.logger.Error("session release failed",
				slog.Int64("thread_id", thread.ID),
				slog.String("error", closeErr.Error()),
			)
		}
		if s.onClose != nil {
			s.onClose(Result{Thread: thread, Reason: reason, Err: err})
		}
		sess = next
	}
}

// Shutdown stops accepting events, cancels running sessions and waits
// for them to release their state. It returns ctx's error if the wait
// is cut short.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func titleFrom(text string) string {
	const limit = 60
	if utf8.RuneCountInString(text) <= limit {
		if text == "" {
			return "New conversation"
		}
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
