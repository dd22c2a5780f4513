package errors

import (
	"context"
	"fmt"
	"time"
)

// RetryProtocol configures retry behavior for external calls.
//
// A call is attempted at most MaxRetries+1 times. The first retry waits
// Delay; every following wait is the previous one multiplied by Backoff.
type RetryProtocol struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// Delay is the wait before the first retry.
	Delay time.Duration

	// Backoff is the multiplier applied to the delay after each retry.
	Backoff int

	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration

	// RetryableFunc optionally overrides the default retryability check.
	RetryableFunc func(error) bool

	// OnRetry is called before each wait with the attempt that failed
	// (1-based), the upcoming delay and the error.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetry is the standard protocol for completion calls.
var DefaultRetry = RetryProtocol{
	MaxRetries: 3,
	Delay:      time.Second,
	Backoff:    2,
	MaxDelay:   30 * time.Second,
}

// NoRetry disables retries.
var NoRetry = RetryProtocol{
	Backoff: 1,
}

// Validate checks the protocol bounds.
func (p RetryProtocol) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.Delay < 0 {
		return fmt.Errorf("delay must be >= 0, got %s", p.Delay)
	}
	if p.Backoff < 1 {
		return fmt.Errorf("backoff must be >= 1, got %d", p.Backoff)
	}
	return nil
}

// Attempts returns the maximum number of attempts including the first.
func (p RetryProtocol) Attempts() int {
	return p.MaxRetries + 1
}

// RetryResult contains the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent retrying.
	Duration time.Duration
}

// WithRetryContext executes fn under the protocol, respecting context
// cancellation between attempts. The returned error is always a
// *CategorizedError when non-nil.
func WithRetryContext[T any](
	ctx context.Context,
	p RetryProtocol,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()
	delay := p.Delay
	backoff := p.Backoff
	if backoff < 1 {
		backoff = 1
	}
	maxAttempts := p.Attempts()
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	isRetryable := p.RetryableFunc
	if isRetryable == nil {
		isRetryable = IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryResult[T]{
				Err:      &CategorizedError{Err: err, Category: CategoryPermanent, Attempts: attempt - 1, Context: "context cancelled"},
				Attempts: attempt - 1,
				Duration: time.Since(start),
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return RetryResult[T]{
				Value:    result,
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}
		lastErr = err

		if !isRetryable(err) {
			return RetryResult[T]{
				Err:      &CategorizedError{Err: err, Category: Categorize(err), Attempts: attempt},
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		// No wait after the last attempt
		if attempt == maxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		select {
		case <-ctx.Done():
			return RetryResult[T]{
				Err:      &CategorizedError{Err: ctx.Err(), Category: CategoryPermanent, Attempts: attempt, Context: "context cancelled during backoff"},
				Attempts: attempt,
				Duration: time.Since(start),
			}
		case <-time.After(delay):
		}

		delay *= time.Duration(backoff)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return RetryResult[T]{
		Err: &CategorizedError{
			Err:      lastErr,
			Category: Categorize(lastErr),
			Attempts: maxAttempts,
			Context:  "max retries exceeded",
		},
		Attempts: maxAttempts,
		Duration: time.Since(start),
	}
}
