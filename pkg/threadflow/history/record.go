// Package history implements the append-only, per-namespace record log
// that every durable component writes through.
//
// Records are stored one blob per record under
//
//	history/<escaped namespace>/<20-digit sequence>
//
// so the blob store's lexical key order is the append order.
package history

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Kind identifies what a record's payload holds.
type Kind string

// Record kinds.
const (
	KindQueueState Kind = "queue_state"
	KindStepResult Kind = "step_result"
	KindSlotValue  Kind = "slot_value"
	KindCustom     Kind = "custom"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindQueueState, KindStepResult, KindSlotValue, KindCustom:
		return true
	}
	return false
}

// Record is one immutable entry in a namespace's log.
type Record struct {
	Sequence  uint64    `cbor:"seq"`
	Namespace string    `cbor:"ns"`
	Kind      Kind      `cbor:"kind"`
	Timestamp time.Time `cbor:"ts"`
	Payload   []byte    `cbor:"payload"`
	Checksum  []byte    `cbor:"sum"`
}

// Sentinel errors for history operations.
var (
	// ErrCorruptRecord indicates a stored record failed to decode or verify.
	ErrCorruptRecord = errors.New("corrupt history record")

	// ErrInvalidNamespace indicates a namespace that cannot be stored.
	ErrInvalidNamespace = errors.New("invalid history namespace")

	// ErrInvalidKind indicates an unknown record kind on append.
	ErrInvalidKind = errors.New("invalid record kind")
)

func checksum(payload []byte) []byte {
	sum := blake3.Sum256(payload)
	return sum[:]
}

// verify checks the record against the sequence and namespace implied by
// its storage key.
func (r *Record) verify(namespace string, seq uint64) error {
	if r.Sequence != seq {
		return fmt.Errorf("sequence %d stored under %d", r.Sequence, seq)
	}
	if r.Namespace != namespace {
		return fmt.Errorf("namespace %q stored under %q", r.Namespace, namespace)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
	if !bytes.Equal(r.Checksum, checksum(r.Payload)) {
		return errors.New("payload checksum mismatch")
	}
	return nil
}

// Decode deserializes the record payload into v.
func (r Record) Decode(v any) error {
	return Decode(r.Payload, v)
}
