package threadflow

// State is a session's position in the dialogue state machine.
type State int

// Session states.
const (
	// StateIdle waits for the next message.
	StateIdle State = iota
	// StateGenerating has a completion step in flight.
	StateGenerating
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason records why Run returned.
type CloseReason string

// Close reasons.
const (
	// CloseIdle means no message arrived within the idle timeout.
	CloseIdle CloseReason = "idle_timeout"
	// CloseTerminated means a close message was received.
	CloseTerminated CloseReason = "terminated"
	// CloseMaxTurns means the configured turn limit was reached.
	CloseMaxTurns CloseReason = "max_turns"
	// CloseShutdown means the session was closed while waiting.
	CloseShutdown CloseReason = "shutdown"
	// CloseCancelled means the context ended.
	CloseCancelled CloseReason = "cancelled"
	// CloseFailed means a step failed or durability was lost.
	CloseFailed CloseReason = "failed"
)

// IsError reports whether Run returns a non-nil error for this reason.
func (r CloseReason) IsError() bool {
	return r == CloseCancelled || r == CloseFailed
}
