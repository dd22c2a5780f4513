package errors

import (
	"fmt"
	"time"
)

// HTTPError is a non-2xx response from an external API. Categorize
// treats 408, 409, 429 and 5xx as transient.
type HTTPError struct {
	StatusCode int
	Message    string
	// Endpoint is the API path that failed, e.g. "chat/completions".
	Endpoint string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no message"
	}
	if e.Endpoint == "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, msg)
}

// TimeoutError is an external call that ran past its own deadline while
// the caller was still waiting. It is always transient.
type TimeoutError struct {
	// Operation names the call, e.g. "chat completion".
	Operation string
	// After is the configured deadline; zero if the transport timed out.
	After time.Duration
	// Err is the transport error, if any.
	Err error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("%s timed out after %s", e.Operation, e.After)
	}
	return e.Operation + " timed out"
}

// Unwrap returns the transport error.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}
