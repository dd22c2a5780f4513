package blob

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// Compressed wraps a Store and zstd-compresses every value at rest.
type Compressed struct {
	Store
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	closed atomic.Bool
}

// NewCompressed wraps inner. Keys and listing are passed through unchanged.
func NewCompressed(inner Store) (*Compressed, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Compressed{Store: inner, enc: enc, dec: dec}, nil
}

// Write implements Store.
func (c *Compressed) Write(ctx context.Context, key string, value []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.Store.Write(ctx, key, c.enc.EncodeAll(value, nil))
}

// Read implements Store.
func (c *Compressed) Read(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	data, err := c.Store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress blob %s: %w", key, err)
	}
	return out, nil
}

// Close implements Store.
func (c *Compressed) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.enc.Close()
	c.dec.Close()
	return c.Store.Close()
}
