package blob

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend for Open.
type Options struct {
	// Backend is one of the Backend* constants. Empty means memory.
	Backend string

	// Path is the directory (file) or database path (sqlite).
	Path string

	// RedisAddr is the host:port of the Redis server.
	RedisAddr string

	// RedisPrefix is prepended to every Redis key.
	RedisPrefix string

	// Compress wraps the backend with zstd compression.
	Compress bool

	// AgeIdentity, when set, wraps the backend with age encryption.
	AgeIdentity string
}

// Open builds a Store from opts. Encryption is applied outermost so
// compression sees plaintext.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)

	switch opts.Backend {
	case "", BackendMemory:
		store = NewMemoryStore()
	case BackendFile:
		if opts.Path == "" {
			return nil, fmt.Errorf("file backend requires a path")
		}
		store, err = NewFileStore(opts.Path)
	case BackendSQLite:
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		store, err = NewSQLiteStore(opts.Path)
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		store, err = DialRedis(ctx, opts.RedisAddr, WithKeyPrefix(opts.RedisPrefix))
	default:
		return nil, fmt.Errorf("unknown blob backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if opts.Compress {
		c, err := NewCompressed(store)
		if err != nil {
			store.Close()
			return nil, err
		}
		store = c
	}

	if opts.AgeIdentity != "" {
		id, err := ParseIdentity(opts.AgeIdentity)
		if err != nil {
			store.Close()
			return nil, err
		}
		store = NewEncrypted(store, id)
	}

	return store, nil
}
