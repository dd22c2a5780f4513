// Package step memoizes side-effecting operations so each logical step of
// a workflow run executes at most once, even when the workflow code is
// re-entered from the beginning after a crash.
//
// Steps are identified by explicit keys derived from logical position in
// the conversation (see Key), never from incidental call order.
package step

import (
	"errors"
	"fmt"
	"strings"

	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
)

// Status is the state of a recorded step.
type Status string

// Step statuses.
const (
	// StatusPending marks a step whose operation started (or was cleared)
	// but has no outcome. It never satisfies a replay.
	StatusPending Status = "pending"

	// StatusCompleted marks a step with a recorded result.
	StatusCompleted Status = "completed"

	// StatusFailed marks a step whose operation failed terminally.
	StatusFailed Status = "failed"
)

// Entry is the persisted form of one step transition.
type Entry struct {
	Key     string   `cbor:"key"`
	Status  Status   `cbor:"status"`
	Result  []byte   `cbor:"result,omitempty"`
	Failure *Failure `cbor:"failure,omitempty"`
	Cleared bool     `cbor:"cleared,omitempty"`
}

// Failure describes a recorded failure.
type Failure struct {
	Message  string `cbor:"message"`
	Category string `cbor:"category"`
	Attempts int    `cbor:"attempts,omitempty"`
}

// Sentinel errors for step operations.
var (
	// ErrStepCompleted indicates an attempt to clear a completed step.
	ErrStepCompleted = errors.New("step already completed")

	// ErrStepInFlight indicates the same key is already executing.
	ErrStepInFlight = errors.New("step already in flight")

	// ErrEmptyKey indicates a step was invoked without a key.
	ErrEmptyKey = errors.New("step key is required")
)

// FailedError reports a step whose operation failed, either just now or
// in a previous run (Replayed).
type FailedError struct {
	// Key is the step key.
	Key string
	// Replayed is true if the failure came from the history log.
	Replayed bool
	// Err is the failure cause. For replayed failures it is a
	// *errors.CategorizedError rebuilt from the record.
	Err error
}

// Error implements the error interface.
func (e *FailedError) Error() string {
	if e.Replayed {
		return fmt.Sprintf("step %s failed (recorded): %v", e.Key, e.Err)
	}
	return fmt.Sprintf("step %s failed: %v", e.Key, e.Err)
}

// Unwrap returns the cause for errors.Is/As support.
func (e *FailedError) Unwrap() error {
	return e.Err
}

// failureFrom captures err for the log.
func failureFrom(err error) *Failure {
	f := &Failure{
		Message:  err.Error(),
		Category: tferrors.Categorize(err).String(),
	}
	var catErr *tferrors.CategorizedError
	if errors.As(err, &catErr) {
		f.Attempts = catErr.Attempts
	}
	return f
}

// asError rebuilds a categorized error from a recorded failure.
func (f *Failure) asError() error {
	return &tferrors.CategorizedError{
		Err:      errors.New(f.Message),
		Category: tferrors.ParseCategory(f.Category),
		Attempts: f.Attempts,
	}
}

// Key joins parts into a step key: Key("turn", 3, "completion") is
// "turn-0003/completion". Integers are zero-padded so keys sort by
// position.
func Key(parts ...any) string {
	segs := make([]string, 0, len(parts))
	for i := 0; i < len(parts); i++ {
		switch p := parts[i].(type) {
		case string:
			if i+1 < len(parts) {
				if n, ok := parts[i+1].(int); ok {
					segs = append(segs, fmt.Sprintf("%s-%04d", p, n))
					i++
					continue
				}
			}
			segs = append(segs, p)
		case int:
			segs = append(segs, fmt.Sprintf("%04d", p))
		default:
			segs = append(segs, fmt.Sprint(p))
		}
	}
	return strings.Join(segs, "/")
}

// Name returns the last segment of a key, used as a low-cardinality
// metric label.
func Name(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
