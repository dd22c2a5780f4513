package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/threadflow/pkg/threadflow/blob"
	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
	"github.com/randalmurphal/threadflow/pkg/threadflow/history"
	"github.com/randalmurphal/threadflow/pkg/threadflow/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const channel int64 = 4242

type message struct {
	ID   string `cbor:"id"`
	Text string `cbor:"text"`
}

func openQueue(t *testing.T, store blob.Store) *queue.Queue[string] {
	t.Helper()
	q, err := queue.Open[string](context.Background(), history.New(store), channel)
	require.NoError(t, err)
	return q
}

func TestQueue_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	q := openQueue(t, store)
	require.NoError(t, q.Put("a"))
	require.NoError(t, q.Put("b"))
	require.NoError(t, q.Put("c"))
	require.NoError(t, q.Stash(ctx))

	// Stashing is transparent.
	assert.Equal(t, []string{"a", "b", "c"}, q.Items())

	fresh := openQueue(t, store)
	for _, want := range []string{"a", "b", "c"} {
		got, err := fresh.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.True(t, fresh.IsEmpty())
}

func TestQueue_StructItemsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	log := history.New(store)

	q, err := queue.Open[message](ctx, log, channel)
	require.NoError(t, err)
	require.NoError(t, q.Put(message{ID: "m1", Text: "why is the sky blue?"}))
	require.NoError(t, q.Close(ctx))

	fresh, err := queue.Open[message](ctx, history.New(store), channel)
	require.NoError(t, err)
	got, err := fresh.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, message{ID: "m1", Text: "why is the sky blue?"}, got)
}

func TestQueue_CloseWithoutChangesWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	q := openQueue(t, store)
	require.NoError(t, q.Close(ctx))
	assert.Equal(t, 0, store.Writes())

	// Same after rehydrating a non-empty snapshot.
	q = openQueue(t, store)
	require.NoError(t, q.Put("x"))
	require.NoError(t, q.Close(ctx))
	writes := store.Writes()

	q = openQueue(t, store)
	require.NoError(t, q.Close(ctx))
	assert.Equal(t, writes, store.Writes())
}

func TestQueue_StashSkipsUnchangedContents(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	q := openQueue(t, store)

	require.NoError(t, q.Put("a"))
	require.NoError(t, q.Stash(ctx))
	writes := store.Writes()

	require.NoError(t, q.Stash(ctx))
	assert.Equal(t, writes, store.Writes())

	_, err := q.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Stash(ctx))
	assert.Greater(t, store.Writes(), writes)
}

func TestQueue_CloseFlushesAfterCancellation(t *testing.T) {
	store := blob.NewMemoryStore()
	q := openQueue(t, store)
	require.NoError(t, q.Put("pending"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Close(ctx))

	fresh := openQueue(t, store)
	assert.Equal(t, []string{"pending"}, fresh.Items())
}

func TestQueue_GetWaitsForPut(t *testing.T) {
	q := openQueue(t, blob.NewMemoryStore())

	got := make(chan string, 1)
	go func() {
		item, err := q.Get(context.Background())
		if err == nil {
			got <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Put("late"))

	select {
	case item := <-got:
		assert.Equal(t, "late", item)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after Put")
	}
}

func TestQueue_WaitersServedInOrder(t *testing.T) {
	q := openQueue(t, blob.NewMemoryStore())
	ctx := context.Background()

	const n = 5
	results := make([]chan string, n)
	for i := 0; i < n; i++ {
		results[i] = make(chan string, 1)
		ch := results[i]
		go func() {
			item, _ := q.Get(ctx)
			ch <- item
		}()
		// Let each waiter register before the next one.
		time.Sleep(5 * time.Millisecond)
	}

	for _, item := range []string{"0", "1", "2", "3", "4"} {
		require.NoError(t, q.Put(item))
	}
	for i := 0; i < n; i++ {
		select {
		case item := <-results[i]:
			assert.Equal(t, string(rune('0'+i)), item)
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never served", i)
		}
	}
}

func TestQueue_CancelledGetLosesNothing(t *testing.T) {
	q := openQueue(t, blob.NewMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := q.Get(ctx)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	require.NoError(t, q.Put("kept"))
	got, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kept", got)
}

func TestQueue_ConcurrentPutGet(t *testing.T) {
	q := openQueue(t, blob.NewMemoryStore())
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	seen := make(chan string, n)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/4; j++ {
				item, err := q.Get(ctx)
				if err != nil {
					return
				}
				seen <- item
			}
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, q.Put("item"))
	}
	wg.Wait()
	close(seen)

	count := 0
	for range seen {
		count++
	}
	assert.Equal(t, n, count)
	assert.True(t, q.IsEmpty())
}

func TestQueue_GetTimeout(t *testing.T) {
	q := openQueue(t, blob.NewMemoryStore())

	start := time.Now()
	_, err := q.GetTimeout(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	require.NoError(t, q.Put("now"))
	got, err := q.GetTimeout(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "now", got)
}

func TestQueue_GetTimeoutReportsParentCancellation(t *testing.T) {
	q := openQueue(t, blob.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.GetTimeout(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, queue.ErrTimeout))
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	q := openQueue(t, blob.NewMemoryStore())

	errc := make(chan error, 1)
	go func() {
		_, err := q.Get(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close(context.Background()))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, queue.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}
	assert.ErrorIs(t, q.Put("x"), queue.ErrClosed)
	assert.NoError(t, q.Close(context.Background()))
}

func TestQueue_Clear(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	q := openQueue(t, store)
	require.NoError(t, q.Put("a"))
	require.NoError(t, q.Stash(ctx))
	require.NoError(t, q.Clear(ctx))
	assert.True(t, q.IsEmpty())

	keys, err := store.List(ctx, "history/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Closing a cleared, still-empty queue writes nothing new.
	require.NoError(t, q.Close(ctx))
	keys, err = store.List(ctx, "history/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.True(t, openQueue(t, store).IsEmpty())
}

func TestQueue_ChannelsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	log := history.New(store)

	a, err := queue.Open[string](ctx, log, 1)
	require.NoError(t, err)
	b, err := queue.Open[string](ctx, log, 2)
	require.NoError(t, err)

	require.NoError(t, a.Put("for-a"))
	require.NoError(t, a.Close(ctx))
	require.NoError(t, b.Close(ctx))

	b2, err := queue.Open[string](ctx, log, 2)
	require.NoError(t, err)
	assert.True(t, b2.IsEmpty())
}

func TestQueue_CorruptSnapshotIsFatal(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	log := history.New(store)

	_, err := log.Append(ctx, queue.Namespace(channel), history.KindQueueState, []byte{0xff})
	require.NoError(t, err)

	_, err = queue.Open[string](ctx, history.New(store), channel)
	require.Error(t, err)
	assert.ErrorIs(t, err, history.ErrCorruptRecord)
	assert.True(t, tferrors.IsFatal(err))
}

func TestQueue_CorruptItemIsFatal(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	log := history.New(store)

	_, err := log.AppendValue(ctx, queue.Namespace(channel), history.KindQueueState,
		queue.Snapshot{ChannelID: channel, Items: [][]byte{{0xff}}})
	require.NoError(t, err)

	_, err = queue.Open[string](ctx, history.New(store), channel)
	assert.ErrorIs(t, err, history.ErrCorruptRecord)
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, "queue/4242", queue.Namespace(4242))
	assert.Equal(t, "queue/-7", queue.Namespace(-7))
}
