// Package errors classifies failures so callers know whether to retry,
// abort a thread, or surface a diagnostic.
//
// Four categories cover the substrate:
//   - Transient: external-call failures that a retry may fix
//   - Permanent: external-call failures that a retry will not fix
//   - Persistence: blob store or history log I/O; durability is lost
//   - Corruption: a persisted record cannot be decoded on replay
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, 5xx responses.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: authentication failures, invalid requests.
	CategoryPermanent

	// CategoryPersistence indicates the durability layer failed.
	// Thread-fatal; never retried by the orchestrator.
	CategoryPersistence

	// CategoryCorruption indicates a persisted record is unreadable.
	// Fatal for the namespace that owns the record.
	CategoryCorruption
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryPersistence:
		return "persistence"
	case CategoryCorruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// ParseCategory is the inverse of String. Unknown names map to
// CategoryPermanent.
func ParseCategory(s string) Category {
	switch s {
	case "transient":
		return CategoryTransient
	case "persistence":
		return CategoryPersistence
	case "corruption":
		return CategoryCorruption
	default:
		return CategoryPermanent
	}
}

// Category sentinels, matched by CategorizedError.Is.
var (
	ErrPersistence = errors.New("persistence failure")
	ErrCorruption  = errors.New("corrupt record")
)

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Is matches the category sentinels, so errors.Is(err, ErrPersistence)
// holds for any persistence-categorized error.
func (e *CategorizedError) Is(target error) bool {
	switch target {
	case ErrPersistence:
		return e.Category == CategoryPersistence
	case ErrCorruption:
		return e.Category == CategoryCorruption
	}
	return false
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Persistence creates a persistence error.
func Persistence(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPersistence, context)
}

// Corruption creates a corruption error.
func Corruption(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryCorruption, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 408, 409, 429, 503, 504:
			return CategoryTransient
		default:
			if httpErr.StatusCode >= 500 {
				return CategoryTransient
			}
			return CategoryPermanent
		}
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	// A per-call deadline is worth another attempt; caller cancellation is not.
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsFatal reports whether the error must abort the owning thread
// without a user-facing retry.
func IsFatal(err error) bool {
	cat := Categorize(err)
	return cat == CategoryPersistence || cat == CategoryCorruption
}
