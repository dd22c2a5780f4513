package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"filippo.io/age"
)

// Encrypted wraps a Store and encrypts every value with age.
// Conversation content is sensitive; keys stay in plaintext so listing
// and ordering still work.
type Encrypted struct {
	Store
	identity  age.Identity
	recipient age.Recipient
}

// NewEncrypted wraps inner using an X25519 identity. The identity's
// recipient is used for encryption.
func NewEncrypted(inner Store, identity *age.X25519Identity) *Encrypted {
	return &Encrypted{
		Store:     inner,
		identity:  identity,
		recipient: identity.Recipient(),
	}
}

// ParseIdentity parses an "AGE-SECRET-KEY-1..." string.
func ParseIdentity(s string) (*age.X25519Identity, error) {
	id, err := age.ParseX25519Identity(s)
	if err != nil {
		return nil, fmt.Errorf("parse age identity: %w", err)
	}
	return id, nil
}

// Write implements Store.
func (e *Encrypted) Write(ctx context.Context, key string, value []byte) error {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.recipient)
	if err != nil {
		return fmt.Errorf("encrypt blob %s: %w", key, err)
	}
	if _, err := w.Write(value); err != nil {
		return fmt.Errorf("encrypt blob %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encrypt blob %s: %w", key, err)
	}
	return e.Store.Write(ctx, key, buf.Bytes())
}

// Read implements Store.
func (e *Encrypted) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := e.Store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	r, err := age.Decrypt(bytes.NewReader(data), e.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt blob %s: %w", key, err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypt blob %s: %w", key, err)
	}
	return out, nil
}
