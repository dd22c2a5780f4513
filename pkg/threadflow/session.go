package threadflow

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/threadflow/pkg/threadflow/agent"
	"github.com/randalmurphal/threadflow/pkg/threadflow/chat"
	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
	"github.com/randalmurphal/threadflow/pkg/threadflow/llm"
	"github.com/randalmurphal/threadflow/pkg/threadflow/observability"
	"github.com/randalmurphal/threadflow/pkg/threadflow/queue"
	"github.com/randalmurphal/threadflow/pkg/threadflow/slot"
	"github.com/randalmurphal/threadflow/pkg/threadflow/step"
)

// maxHandoffs bounds follow-up completions within one turn.
const maxHandoffs = 3

// Session is one open thread. Run drives the dialogue loop; Close
// releases the thread's queue and agent slot, flushing both.
//
// Every side effect in the loop is a step keyed by its position in the
// conversation, so running a reopened session from the start replays
// recorded results instead of repeating completions or replies.
type Session struct {
	o      *Orchestrator
	thread Thread
	logger *slog.Logger

	queue *queue.Queue[chat.Message]
	slot  *slot.Slot
	steps *step.Recorder

	mu      sync.Mutex
	state   State
	turns   int
	running bool
	closed  bool

	// Owned by the Run goroutine.
	history  []llm.Message
	consumed map[string]bool
}

// Thread returns the session's thread.
func (s *Session) Thread() Thread {
	return s.thread
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Turns returns the number of completed exchanges, replayed ones included.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// Pending returns the number of queued, unconsumed messages.
func (s *Session) Pending() int {
	return s.queue.Len()
}

// Agent returns the active agent name; empty means the default agent.
func (s *Session) Agent() string {
	return s.slot.Get()
}

// Steps returns how many steps executed and how many replayed so far.
func (s *Session) Steps() (executed, replayed int) {
	return s.steps.Stats()
}

// Transcript returns the message history built so far. It must not be
// called while Run is active.
func (s *Session) Transcript() []llm.Message {
	return append([]llm.Message(nil), s.history...)
}

// Deliver enqueues an inbound message. It never blocks. A message
// without an ID is given one.
func (s *Session) Deliver(msg chat.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := s.queue.Put(msg); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// Run drives the dialogue until the thread closes. An idle timeout,
// close message, turn limit or Close while waiting return a nil error.
// A session runs once; Run after it has closed returns ErrSessionClosed.
// Cancellation returns *CancellationError; a failed step returns
// *StepError after the failure notice is sent; durability failures are
// returned as-is and match ErrPersistence or ErrCorrupt.
func (s *Session) Run(ctx context.Context) (reason CloseReason, err error) {
	s.mu.Lock()
	switch {
	case s.closed, s.state == StateClosed:
		s.mu.Unlock()
		return CloseShutdown, ErrSessionClosed
	case s.running:
		s.mu.Unlock()
		return "", ErrSessionRunning
	}
	s.running = true
	s.mu.Unlock()

	start := time.Now()
	ctx, span := s.o.spans.StartSessionSpan(ctx, s.thread.ID, s.thread.ChannelID)
	defer func() {
		s.o.spans.EndSpanWithError(span, err)
	}()

	observability.LogSessionStart(s.logger, s.thread.ID, s.steps.Len())

	defer func() {
		if r := recover(); r != nil {
			reason = CloseFailed
			err = &PanicError{ThreadID: s.thread.ID, Value: r, Stack: string(debug.Stack())}
		}

		s.mu.Lock()
		s.running = false
		s.state = StateClosed
		turns := s.turns
		s.mu.Unlock()

		duration := time.Since(start)
		s.o.metrics.RecordSession(context.WithoutCancel(ctx), string(reason), turns, duration)
		if err != nil {
			observability.LogSessionError(s.logger, s.thread.ID, err, turns)
		} else {
			observability.LogSessionClosed(s.logger, s.thread.ID, string(reason), turns, float64(duration.Milliseconds()))
		}
	}()

	return s.loop(ctx)
}

func (s *Session) loop(ctx context.Context) (CloseReason, error) {
	settings := s.o.settings
	for turn := 1; ; turn++ {
		if settings.MaxTurns > 0 && turn > settings.MaxTurns {
			return CloseMaxTurns, nil
		}

		s.setState(StateIdle)
		msg, err := s.input(ctx, turn)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrTimeout):
			return s.closeIdle(ctx, turn)
		case errors.Is(err, queue.ErrClosed):
			return CloseShutdown, nil
		default:
			return s.fail(ctx, turn, err)
		}
		if msg.Kind == chat.KindClose {
			return CloseTerminated, nil
		}

		s.setState(StateGenerating)
		s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: msg.Text})

		text, err := s.generate(ctx, turn)
		if err != nil {
			return s.fail(ctx, turn, err)
		}
		if err := s.reply(ctx, turn, text); err != nil {
			return s.fail(ctx, turn, err)
		}

		s.mu.Lock()
		s.turns = turn
		s.mu.Unlock()
	}
}

// input returns the message consumed by turn. A recorded input is
// replayed; otherwise the queue is stashed and the next unseen message
// is awaited.
func (s *Session) input(ctx context.Context, turn int) (chat.Message, error) {
	key := step.Key("turn", turn, "input")

	var next chat.Message
	if e, ok := s.steps.Lookup(key); !ok || e.Status == step.StatusPending {
		m, err := s.dequeue(ctx)
		if err != nil {
			return chat.Message{}, err
		}
		next = m
	}

	msg, err := step.Do(ctx, s.steps, key, func(context.Context) (chat.Message, error) {
		return next, nil
	})
	if err != nil {
		return chat.Message{}, err
	}
	if msg.ID != "" {
		s.consumed[msg.ID] = true
	}
	return msg, nil
}

// dequeue waits for the next message not already consumed by a recorded
// input. Duplicates appear when the process stopped after recording an
// input but before the queue was stashed again.
func (s *Session) dequeue(ctx context.Context) (chat.Message, error) {
	if err := s.queue.Stash(ctx); err != nil {
		return chat.Message{}, err
	}
	for {
		m, err := s.queue.GetTimeout(ctx, s.o.settings.IdleTimeout)
		if err != nil {
			return chat.Message{}, err
		}
		if m.ID != "" && s.consumed[m.ID] {
			s.logger.Debug("dropping already consumed message", slog.String("message_id", m.ID))
			continue
		}
		return m, nil
	}
}

// completion is the recorded result of a completion step: the response
// and the agent that produced it.
type completion struct {
	Agent    string        `cbor:"agent"`
	Response *llm.Response `cbor:"response"`
}

// generate runs the completion for turn, following handoffs, and
// returns the reply text.
func (s *Session) generate(ctx context.Context, turn int) (string, error) {
	for k := 0; k <= maxHandoffs; k++ {
		current, err := s.activeAgent()
		if err != nil {
			return "", err
		}

		key := step.Key("turn", turn, "completion")
		if k > 0 {
			key = step.Key("turn", turn, "completion", k)
		}
		req := s.request(current)
		rec, err := step.Do(ctx, s.steps, key, func(ctx context.Context) (completion, error) {
			resp, err := s.o.completer.Complete(ctx, req)
			if err != nil {
				return completion{}, err
			}
			if _, ok := resp.Message(); !ok {
				return completion{}, tferrors.Permanent(ErrEmptyCompletion, "completion")
			}
			return completion{Agent: current.Name, Response: resp}, nil
		})
		if err != nil {
			return "", err
		}

		// The slot holds the agent at the end of the last run, so a
		// replayed completion restores the agent it was recorded under.
		if rec.Agent != current.Name {
			s.slot.Set(rec.Agent)
			if current, err = s.activeAgent(); err != nil {
				return "", err
			}
		}

		msg, ok := rec.Response.Message()
		if !ok {
			return "", tferrors.Corruption(ErrEmptyCompletion, "replay completion")
		}
		msg.Role = llm.RoleAssistant
		s.history = append(s.history, msg)
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		handedOff := false
		for _, call := range msg.ToolCalls {
			result := "Unknown tool " + call.Name + "."
			if target, ok := s.o.agents.Resolve(call.Name); ok && canHandOff(current, target.Name) {
				s.slot.Set(target.Name)
				handedOff = true
				result = "Transferred to " + target.Name + "."
				s.logger.Info("agent handoff",
					slog.String("step_key", key),
					slog.String("from", current.Name),
					slog.String("to", target.Name),
				)
			}
			s.history = append(s.history, llm.Message{Role: llm.RoleTool, Content: result, ToolCallID: call.ID})
		}
		if !handedOff && msg.Content != "" {
			return msg.Content, nil
		}
	}
	return "", ErrTooManyHandoffs
}

// activeAgent resolves the slot, falling back to the default agent if
// the slot names one that is no longer registered.
func (s *Session) activeAgent() (agent.Agent, error) {
	name := s.slot.Get()
	a, err := s.o.agents.Lookup(name)
	if err == nil {
		return a, nil
	}
	s.logger.Warn("active agent not registered, using default", slog.String("agent", name))
	return s.o.agents.Default()
}

func canHandOff(from agent.Agent, to string) bool {
	for _, h := range from.Handoffs {
		if h == to {
			return true
		}
	}
	return false
}

func (s *Session) request(a agent.Agent) llm.Request {
	model := a.Model
	if model == "" {
		model = s.o.settings.Engine
	}
	msgs := make([]llm.Message, 0, len(s.history)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.Instructions})
	msgs = append(msgs, s.history...)
	return llm.Request{
		Model:    model,
		Messages: msgs,
		Tools:    s.o.agents.Tools(a.Name),
	}
}

func (s *Session) reply(ctx context.Context, turn int, text string) error {
	if text == "" {
		return nil
	}
	return s.notify(ctx, step.Key("turn", turn, "reply"), text)
}

// notify sends text to the thread as a step.
func (s *Session) notify(ctx context.Context, key, text string) error {
	if text == "" {
		return nil
	}
	_, err := step.Do(ctx, s.steps, key, func(ctx context.Context) (bool, error) {
		if err := s.o.messenger.SendMessage(ctx, s.thread.ID, text); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

func (s *Session) closeIdle(ctx context.Context, turn int) (CloseReason, error) {
	err := s.notify(ctx, step.Key("turn", turn, "idle-notice"), s.o.settings.Notices.Idle)
	switch {
	case err == nil:
	case ctx.Err() != nil || tferrors.IsFatal(err):
		return s.fail(ctx, turn, err)
	default:
		s.logger.Warn("idle notice not delivered", slog.String("error", err.Error()))
	}
	return CloseIdle, nil
}

// fail classifies a loop error. Durability failures abort without
// notice; any other failure sends the failure notice first.
func (s *Session) fail(ctx context.Context, turn int, err error) (CloseReason, error) {
	if cause := ctx.Err(); cause != nil {
		return CloseCancelled, &CancellationError{
			ThreadID: s.thread.ID,
			Turn:     turn,
			State:    s.State(),
			Cause:    cause,
		}
	}
	if tferrors.IsFatal(err) {
		s.logger.Error("durable state unavailable, aborting thread",
			slog.Int("turn", turn),
			slog.String("category", tferrors.Categorize(err).String()),
			slog.String("error", err.Error()),
		)
		return CloseFailed, err
	}

	stepErr := &StepError{ThreadID: s.thread.ID, Err: err}
	var failed *step.FailedError
	if errors.As(err, &failed) {
		stepErr.Key = failed.Key
		stepErr.Replayed = failed.Replayed
	}

	if noticeErr := s.notify(ctx, step.Key("turn", turn, "failure-notice"), s.o.settings.Notices.Failure); noticeErr != nil {
		if tferrors.IsFatal(noticeErr) {
			return CloseFailed, noticeErr
		}
		s.logger.Warn("failure notice not delivered", slog.String("error", noticeErr.Error()))
	}
	return CloseFailed, stepErr
}

// Close releases the thread: the queue is stashed and the agent slot
// written back, even if ctx is already cancelled. A Run blocked waiting
// for input returns CloseShutdown. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if !s.running {
		s.state = StateClosed
	}
	s.mu.Unlock()

	return errors.Join(s.queue.Close(ctx), s.slot.Close(ctx))
}
