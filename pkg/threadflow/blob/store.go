// Package blob provides the key/value persistence primitive under the
// history log. Backends are swappable and irrelevant to correctness.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store persists opaque values by key.
// Implementations must be safe for concurrent use on disjoint keys.
// Same-key concurrent writes are not ordered; callers serialize through
// namespace ownership.
type Store interface {
	// Write stores value under key, replacing any previous value.
	Write(ctx context.Context, key string, value []byte) error

	// Read returns the value stored under key.
	// Returns ErrNotFound if the key is absent.
	Read(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// List returns all keys starting with prefix in ascending order.
	// Returns an empty slice (not error) if nothing matches.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for blob operations.
var (
	// ErrNotFound indicates a key doesn't exist.
	ErrNotFound = errors.New("blob not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("blob store closed")

	// ErrInvalidKey indicates a key the backend cannot represent.
	ErrInvalidKey = errors.New("invalid blob key")
)

// validateKey rejects keys that cannot be mapped onto every backend.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
