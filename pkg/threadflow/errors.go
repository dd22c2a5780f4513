package threadflow

import (
	"errors"
	"fmt"

	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
)

// Sentinel errors for durability failures. Both are thread-fatal and
// match with errors.Is through any wrapping.
var (
	// ErrPersistence indicates the blob store or history log failed.
	ErrPersistence = tferrors.ErrPersistence

	// ErrCorrupt indicates a persisted record could not be replayed.
	ErrCorrupt = tferrors.ErrCorruption
)

// Sentinel errors for sessions and the supervisor.
var (
	// ErrSessionClosed indicates Run or Deliver on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionRunning indicates Run was called while already running.
	ErrSessionRunning = errors.New("session already running")

	// ErrTooManyThreads indicates the supervisor is at max_threads.
	ErrTooManyThreads = errors.New("too many active threads")

	// ErrShuttingDown indicates the supervisor no longer accepts events.
	ErrShuttingDown = errors.New("supervisor shutting down")

	// ErrEmptyCompletion indicates a completion returned no choices.
	ErrEmptyCompletion = errors.New("completion returned no choices")

	// ErrTooManyHandoffs indicates agents kept handing off within one turn.
	ErrTooManyHandoffs = errors.New("too many handoffs in one turn")
)

// StepError reports a step that failed terminally. The user has been
// sent the failure notice; the thread is aborted.
type StepError struct {
	// ThreadID is the thread that failed.
	ThreadID int64
	// Key is the step key.
	Key string
	// Replayed is true if the failure was recorded in an earlier run.
	Replayed bool
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("thread %d: step %s: %v", e.ThreadID, e.Key, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StepError) Unwrap() error {
	return e.Err
}

// CancellationError captures where a session was when its context ended.
type CancellationError struct {
	// ThreadID is the thread whose session was cancelled.
	ThreadID int64
	// Turn is the turn in progress.
	Turn int
	// State is the session state at cancellation.
	State State
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("thread %d cancelled in turn %d while %s: %v", e.ThreadID, e.Turn, e.State, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// PanicError captures a panic inside a session.
type PanicError struct {
	// ThreadID is the thread whose session panicked.
	ThreadID int64
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("thread %d panicked: %v", e.ThreadID, e.Value)
}
