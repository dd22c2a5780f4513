package history_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/randalmurphal/threadflow/pkg/threadflow/blob"
	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
	"github.com/randalmurphal/threadflow/pkg/threadflow/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails writes when failWrites is set.
type failingStore struct {
	blob.Store
	failWrites bool
}

func (f *failingStore) Write(ctx context.Context, key string, value []byte) error {
	if f.failWrites {
		return errors.New("disk full")
	}
	return f.Store.Write(ctx, key, value)
}

func TestLog_AppendAndReadAll(t *testing.T) {
	ctx := context.Background()
	log := history.New(blob.NewMemoryStore())

	for i := 0; i < 12; i++ {
		rec, err := log.Append(ctx, "thread-1", history.KindCustom, []byte(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), rec.Sequence)
	}

	records, err := log.ReadAll(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, records, 12)
	for i, rec := range records {
		assert.Equal(t, uint64(i+1), rec.Sequence)
		assert.Equal(t, "thread-1", rec.Namespace)
		assert.Equal(t, []byte(fmt.Sprintf("p%d", i)), rec.Payload)
		assert.False(t, rec.Timestamp.IsZero())
	}
}

func TestLog_OrderingAcrossInterleavedNamespaces(t *testing.T) {
	ctx := context.Background()
	log := history.New(blob.NewMemoryStore())

	const perNamespace = 25
	namespaces := []string{"a", "b", "c/with/slash"}

	var wg sync.WaitGroup
	for _, ns := range namespaces {
		wg.Add(1)
		go func(ns string) {
			defer wg.Done()
			for i := 0; i < perNamespace; i++ {
				_, err := log.AppendValue(ctx, ns, history.KindCustom, i)
				assert.NoError(t, err)
			}
		}(ns)
	}
	wg.Wait()

	for _, ns := range namespaces {
		records, err := log.ReadAll(ctx, ns)
		require.NoError(t, err)
		require.Len(t, records, perNamespace)
		for i, rec := range records {
			assert.Equal(t, uint64(i+1), rec.Sequence)
			var v int
			require.NoError(t, rec.Decode(&v))
			assert.Equal(t, i, v, "namespace %s", ns)
		}
	}
}

func TestLog_NamespaceEscaping(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	log := history.New(store)

	_, err := log.Append(ctx, "queue/1", history.KindCustom, []byte("x"))
	require.NoError(t, err)
	_, err = log.Append(ctx, "queue", history.KindCustom, []byte("y"))
	require.NoError(t, err)

	// "queue" must not see records of "queue/1"
	records, err := log.ReadAll(ctx, "queue")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("y"), records[0].Payload)
}

func TestLog_Latest(t *testing.T) {
	ctx := context.Background()
	log := history.New(blob.NewMemoryStore())

	_, found, err := log.Latest(ctx, "t", history.KindSlotValue)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = log.AppendValue(ctx, "t", history.KindSlotValue, "first")
	require.NoError(t, err)
	_, err = log.AppendValue(ctx, "t", history.KindSlotValue, "second")
	require.NoError(t, err)
	_, err = log.AppendValue(ctx, "t", history.KindCustom, "noise")
	require.NoError(t, err)

	rec, found, err := log.Latest(ctx, "t", history.KindSlotValue)
	require.NoError(t, err)
	require.True(t, found)
	var v string
	require.NoError(t, rec.Decode(&v))
	assert.Equal(t, "second", v)
	assert.Equal(t, uint64(2), rec.Sequence)
}

func TestLog_Clear(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	log := history.New(store)

	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, "t", history.KindCustom, nil)
		require.NoError(t, err)
	}
	_, err := log.Append(ctx, "other", history.KindCustom, nil)
	require.NoError(t, err)

	require.NoError(t, log.Clear(ctx, "t"))

	records, err := log.ReadAll(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, records)

	others, err := log.ReadAll(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, others, 1)

	// Numbering is not reused after a clear
	rec, err := log.Append(ctx, "t", history.KindCustom, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), rec.Sequence)
}

func TestLog_ResumesSequenceFromStore(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	first := history.New(store)
	for i := 0; i < 5; i++ {
		_, err := first.Append(ctx, "t", history.KindCustom, nil)
		require.NoError(t, err)
	}

	// A restarted process opens a fresh Log over the same store
	second := history.New(store)
	rec, err := second.Append(ctx, "t", history.KindCustom, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), rec.Sequence)

	records, err := second.ReadAll(ctx, "t")
	require.NoError(t, err)
	assert.Len(t, records, 6)
}

func TestLog_ClearKeepsNumberingAcrossLogs(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	first := history.New(store)
	for i := 0; i < 3; i++ {
		_, err := first.Append(ctx, "t", history.KindCustom, nil)
		require.NoError(t, err)
	}
	require.NoError(t, first.Clear(ctx, "t"))

	keys, err := store.List(ctx, "history/")
	require.NoError(t, err)
	assert.Empty(t, keys, "the sequence mark is not a record")

	second := history.New(store)
	rec, err := second.Append(ctx, "t", history.KindCustom, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), rec.Sequence)

	records, err := second.ReadAll(ctx, "t")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(4), records[0].Sequence)

	// Clearing again moves the mark forward.
	require.NoError(t, second.Clear(ctx, "t"))
	rec, err = history.New(store).Append(ctx, "t", history.KindCustom, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.Sequence)
}

func TestLog_CorruptSequenceMark(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	require.NoError(t, store.Write(ctx, "history-seq/t", []byte("not a number")))

	_, err := history.New(store).Append(ctx, "t", history.KindCustom, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, history.ErrCorruptRecord)
}

func TestLog_CorruptRecords(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		tamper func(t *testing.T, store *blob.MemoryStore, key string)
	}{
		{
			name: "garbage bytes",
			tamper: func(t *testing.T, store *blob.MemoryStore, key string) {
				require.NoError(t, store.Write(ctx, key, []byte{0xff, 0x00, 0x13}))
			},
		},
		{
			name: "payload checksum mismatch",
			tamper: func(t *testing.T, store *blob.MemoryStore, key string) {
				data, err := store.Read(ctx, key)
				require.NoError(t, err)
				var rec history.Record
				require.NoError(t, history.Decode(data, &rec))
				rec.Payload = []byte("tampered")
				data, err = history.Encode(rec)
				require.NoError(t, err)
				require.NoError(t, store.Write(ctx, key, data))
			},
		},
		{
			name: "namespace mismatch",
			tamper: func(t *testing.T, store *blob.MemoryStore, key string) {
				data, err := store.Read(ctx, key)
				require.NoError(t, err)
				var rec history.Record
				require.NoError(t, history.Decode(data, &rec))
				rec.Namespace = "someone-else"
				data, err = history.Encode(rec)
				require.NoError(t, err)
				require.NoError(t, store.Write(ctx, key, data))
			},
		},
		{
			name: "sequence mismatch",
			tamper: func(t *testing.T, store *blob.MemoryStore, key string) {
				data, err := store.Read(ctx, key)
				require.NoError(t, err)
				var rec history.Record
				require.NoError(t, history.Decode(data, &rec))
				rec.Sequence = 99
				data, err = history.Encode(rec)
				require.NoError(t, err)
				require.NoError(t, store.Write(ctx, key, data))
			},
		},
		{
			name: "unparseable key",
			tamper: func(t *testing.T, store *blob.MemoryStore, _ string) {
				require.NoError(t, store.Write(ctx, "history/t/zzz", []byte("x")))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := blob.NewMemoryStore()
			log := history.New(store)
			_, err := log.AppendValue(ctx, "t", history.KindCustom, "ok")
			require.NoError(t, err)

			keys, err := store.List(ctx, "history/t/")
			require.NoError(t, err)
			require.Len(t, keys, 1)
			tt.tamper(t, store, keys[0])

			_, err = history.New(store).ReadAll(ctx, "t")
			require.Error(t, err)
			assert.ErrorIs(t, err, history.ErrCorruptRecord)
			assert.Equal(t, tferrors.CategoryCorruption, tferrors.Categorize(err))
		})
	}
}

func TestLog_PersistenceFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: blob.NewMemoryStore()}
	log := history.New(store)

	_, err := log.Append(ctx, "t", history.KindCustom, []byte("a"))
	require.NoError(t, err)

	store.failWrites = true
	_, err = log.Append(ctx, "t", history.KindCustom, []byte("b"))
	require.Error(t, err)
	assert.Equal(t, tferrors.CategoryPersistence, tferrors.Categorize(err))

	// A failed append does not consume a sequence number
	store.failWrites = false
	rec, err := log.Append(ctx, "t", history.KindCustom, []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Sequence)
}

func TestLog_InvalidInput(t *testing.T) {
	ctx := context.Background()
	log := history.New(blob.NewMemoryStore())

	_, err := log.Append(ctx, "", history.KindCustom, nil)
	assert.ErrorIs(t, err, history.ErrInvalidNamespace)

	_, err = log.Append(ctx, "..", history.KindCustom, nil)
	assert.ErrorIs(t, err, history.ErrInvalidNamespace)

	_, err = log.Append(ctx, "t", history.Kind("bogus"), nil)
	assert.ErrorIs(t, err, history.ErrInvalidKind)
}

func TestLog_OverSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := blob.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	log := history.New(store)
	for i := 0; i < 3; i++ {
		_, err := log.AppendValue(ctx, "thread/42", history.KindStepResult, map[string]any{"n": i})
		require.NoError(t, err)
	}

	records, err := log.ReadAll(ctx, "thread/42")
	require.NoError(t, err)
	require.Len(t, records, 3)

	var payload map[string]any
	require.NoError(t, records[2].Decode(&payload))
	assert.EqualValues(t, 2, payload["n"])
}
