package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/threadflow/pkg/threadflow/blob"
	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
)

const (
	keyRoot = "history/"

	// markRoot holds each cleared namespace's next sequence number, kept
	// outside keyRoot so record listings never see it.
	markRoot = "history-seq/"
)

// Log is the append-only record log over a blob store.
//
// A namespace must be owned by exactly one Log (and one writer task) at a
// time. Sequence numbers are assigned by the owning Log; two processes
// appending to the same namespace will collide.
type Log struct {
	store  blob.Store
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	namespaces map[string]*namespaceState
}

// namespaceState serializes appends and tracks the next sequence number.
type namespaceState struct {
	mu     sync.Mutex
	loaded bool
	next   uint64
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates a Log over store.
func New(store blob.Store, opts ...Option) *Log {
	l := &Log{
		store:      store,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		namespaces: make(map[string]*namespaceState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying blob store.
func (l *Log) Store() blob.Store {
	return l.store
}

func (l *Log) state(namespace string) *namespaceState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.namespaces[namespace]
	if !ok {
		st = &namespaceState{next: 1}
		l.namespaces[namespace] = st
	}
	return st
}

func prefix(namespace string) (string, error) {
	if namespace == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	esc := url.PathEscape(namespace)
	if esc == "." || esc == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}
	return keyRoot + esc + "/", nil
}

func markKey(namespace string) string {
	return markRoot + url.PathEscape(namespace)
}

func recordKey(pfx string, seq uint64) string {
	return fmt.Sprintf("%s%020d", pfx, seq)
}

func parseSeq(pfx, key string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(key, pfx), 10, 64)
}

// load initializes st.next from the highest stored sequence and, on
// first use, from the mark left by an earlier Clear.
// Caller holds st.mu.
func (l *Log) load(ctx context.Context, st *namespaceState, namespace, pfx string) ([]string, error) {
	if !st.loaded {
		mark, err := l.readMark(ctx, namespace)
		if err != nil {
			return nil, err
		}
		if mark > st.next {
			st.next = mark
		}
	}
	keys, err := l.store.List(ctx, pfx)
	if err != nil {
		return nil, tferrors.Persistence(err, "list history records")
	}
	if n := len(keys); n > 0 {
		last, err := parseSeq(pfx, keys[n-1])
		if err != nil {
			return nil, tferrors.Corruption(fmt.Errorf("%w: key %s: %v", ErrCorruptRecord, keys[n-1], err), "load history")
		}
		if last+1 > st.next {
			st.next = last + 1
		}
	}
	st.loaded = true
	return keys, nil
}

// Append writes a new record and returns it with its assigned sequence.
// Storage failures are returned as persistence errors.
func (l *Log) Append(ctx context.Context, namespace string, kind Kind, payload []byte) (Record, error) {
	pfx, err := prefix(namespace)
	if err != nil {
		return Record{}, err
	}
	if !kind.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	st := l.state(namespace)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.loaded {
		if _, err := l.load(ctx, st, namespace, pfx); err != nil {
			return Record{}, err
		}
	}

	if payload == nil {
		payload = []byte{}
	}
	rec := Record{
		Sequence:  st.next,
		Namespace: namespace,
		Kind:      kind,
		Timestamp: l.now(),
		Payload:   payload,
		Checksum:  checksum(payload),
	}
	data, err := encMode.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode history record: %w", err)
	}
	if err := l.store.Write(ctx, recordKey(pfx, rec.Sequence), data); err != nil {
		return Record{}, tferrors.Persistence(err, "append history record")
	}
	st.next++

	l.logger.Debug("history record appended",
		slog.String("namespace", namespace),
		slog.String("kind", string(kind)),
		slog.Uint64("sequence", rec.Sequence),
		slog.Int("size_bytes", len(data)),
	)
	return rec, nil
}

// AppendValue encodes v and appends it.
func (l *Log) AppendValue(ctx context.Context, namespace string, kind Kind, v any) (Record, error) {
	payload, err := Encode(v)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return l.Append(ctx, namespace, kind, payload)
}

// ReadAll returns every record in the namespace, oldest first.
// A record that fails to decode or verify aborts the read with a
// corruption error; nothing is skipped.
func (l *Log) ReadAll(ctx context.Context, namespace string) ([]Record, error) {
	pfx, err := prefix(namespace)
	if err != nil {
		return nil, err
	}

	st := l.state(namespace)
	st.mu.Lock()
	defer st.mu.Unlock()

	keys, err := l.load(ctx, st, namespace, pfx)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		seq, err := parseSeq(pfx, key)
		if err != nil {
			return nil, tferrors.Corruption(fmt.Errorf("%w: key %s: %v", ErrCorruptRecord, key, err), "read history")
		}
		data, err := l.store.Read(ctx, key)
		if err != nil {
			return nil, tferrors.Persistence(err, "read history record")
		}
		var rec Record
		if err := decMode.Unmarshal(data, &rec); err != nil {
			return nil, tferrors.Corruption(fmt.Errorf("%w: key %s: %v", ErrCorruptRecord, key, err), "read history")
		}
		if err := rec.verify(namespace, seq); err != nil {
			return nil, tferrors.Corruption(fmt.Errorf("%w: key %s: %v", ErrCorruptRecord, key, err), "read history")
		}
		records = append(records, rec)
	}
	return records, nil
}

// Latest returns the most recent record of kind, if any.
func (l *Log) Latest(ctx context.Context, namespace string, kind Kind) (Record, bool, error) {
	records, err := l.ReadAll(ctx, namespace)
	if err != nil {
		return Record{}, false, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Kind == kind {
			return records[i], true, nil
		}
	}
	return Record{}, false, nil
}

// Clear deletes every record in the namespace. The next sequence number
// is kept in the store, so numbering continues after a clear even for a
// Log opened later over the same store.
func (l *Log) Clear(ctx context.Context, namespace string) error {
	pfx, err := prefix(namespace)
	if err != nil {
		return err
	}

	st := l.state(namespace)
	st.mu.Lock()
	defer st.mu.Unlock()

	keys, err := l.load(ctx, st, namespace, pfx)
	if err != nil {
		return err
	}
	// The mark is written first so a Clear interrupted halfway still
	// never hands out a deleted sequence number again.
	mark := strconv.FormatUint(st.next, 10)
	if err := l.store.Write(ctx, markKey(namespace), []byte(mark)); err != nil {
		return tferrors.Persistence(err, "record history sequence mark")
	}
	for _, key := range keys {
		if err := l.store.Delete(ctx, key); err != nil {
			return tferrors.Persistence(err, "clear history")
		}
	}

	l.logger.Debug("history namespace cleared",
		slog.String("namespace", namespace),
		slog.Int("records", len(keys)),
	)
	return nil
}

// readMark returns the next sequence recorded by the last Clear of
// namespace, or 0 if it was never cleared.
func (l *Log) readMark(ctx context.Context, namespace string) (uint64, error) {
	data, err := l.store.Read(ctx, markKey(namespace))
	if errors.Is(err, blob.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, tferrors.Persistence(err, "read history sequence mark")
	}
	next, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, tferrors.Corruption(fmt.Errorf("%w: sequence mark for %s: %v", ErrCorruptRecord, namespace, err), "load history")
	}
	return next, nil
}
