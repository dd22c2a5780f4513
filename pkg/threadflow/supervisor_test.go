package threadflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/threadflow/pkg/threadflow"
	"github.com/randalmurphal/threadflow/pkg/threadflow/blob"
	"github.com/randalmurphal/threadflow/pkg/threadflow/chat"
	"github.com/randalmurphal/threadflow/pkg/threadflow/config"
	"github.com/randalmurphal/threadflow/pkg/threadflow/llm"
)

func waitResult(t *testing.T, results <-chan threadflow.Result) threadflow.Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to close")
		return threadflow.Result{}
	}
}

func TestSupervisor_DispatchCreatesThread(t *testing.T) {
	ctx := context.Background()
	messenger := chat.NewMemoryMessenger()
	o := newOrchestrator(t, blob.NewMemoryStore(), llm.NewMockCompleter("What makes you say so?"), messenger)

	results := make(chan threadflow.Result, 4)
	sup := o.Supervise(ctx, threadflow.OnClose(func(r threadflow.Result) { results <- r }))
	defer sup.Shutdown(ctx)

	thread, err := sup.Dispatch(ctx, chat.Event{ChannelID: 42, Message: chat.NewMessage("ana", "Is zero even?")})
	require.NoError(t, err)
	assert.NotZero(t, thread.ID)
	assert.Equal(t, int64(42), thread.ChannelID)
	assert.Equal(t, 1, messenger.Threads())

	r := waitResult(t, results)
	assert.Equal(t, thread, r.Thread)
	assert.Equal(t, threadflow.CloseIdle, r.Reason)
	assert.NoError(t, r.Err)
	assert.Equal(t, []string{"What makes you say so?", config.DefaultIdleNotice}, texts(messenger.Sent(thread.ID)))
	assert.Equal(t, 0, sup.Active())
}

func TestSupervisor_DispatchToRunningSession(t *testing.T) {
	ctx := context.Background()
	messenger := chat.NewMemoryMessenger()
	completer := llm.NewMockCompleter("q1", "q2")
	replied := make(chan struct{}, 4)
	messenger.OnSend = func(chat.Sent) { replied <- struct{}{} }
	o := newOrchestrator(t, blob.NewMemoryStore(), completer, messenger,
		func(s *config.Settings) { s.IdleTimeout = time.Minute })

	results := make(chan threadflow.Result, 4)
	sup := o.Supervise(ctx, threadflow.OnClose(func(r threadflow.Result) { results <- r }))

	thread := threadflow.Thread{ID: 9, ChannelID: 1}
	_, err := sup.Dispatch(ctx, chat.Event{ChannelID: 1, ThreadID: 9, Message: chat.NewMessage("ana", "a")})
	require.NoError(t, err)
	<-replied
	assert.Equal(t, 1, sup.Active())

	_, err = sup.Dispatch(ctx, chat.Event{ChannelID: 1, ThreadID: 9, Message: chat.NewMessage("ana", "b")})
	require.NoError(t, err)
	<-replied
	assert.Equal(t, 1, sup.Active())
	assert.Equal(t, 2, completer.CallCount())

	_, err = sup.Dispatch(ctx, chat.Event{ChannelID: 1, ThreadID: 9, Message: chat.CloseMessage()})
	require.NoError(t, err)

	r := waitResult(t, results)
	assert.Equal(t, thread, r.Thread)
	assert.Equal(t, threadflow.CloseTerminated, r.Reason)
	require.NoError(t, sup.Shutdown(ctx))
}

func TestSupervisor_TooManyThreads(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	messenger := chat.NewMemoryMessenger()
	o := newOrchestrator(t, store, llm.NewMockCompleter("q"), messenger, func(s *config.Settings) {
		s.IdleTimeout = time.Minute
		s.MaxThreads = 1
	})
	sup := o.Supervise(ctx)

	_, err := sup.Dispatch(ctx, chat.Event{ChannelID: 1, ThreadID: 1, Message: chat.NewMessage("ana", "a")})
	require.NoError(t, err)

	_, err = sup.Dispatch(ctx, chat.Event{ChannelID: 1, ThreadID: 2, Message: chat.NewMessage("bo", "b")})
	require.ErrorIs(t, err, threadflow.ErrTooManyThreads)
	assert.Equal(t, 1, sup.Active())

	require.NoError(t, sup.Shutdown(ctx))

	// The rejected message was stashed for a later start.
	sess := openSession(t, o, threadflow.Thread{ID: 2, ChannelID: 1})
	defer sess.Close(ctx)
	assert.Equal(t, 1, sess.Pending())
}

func TestSupervisor_ShutdownFlushesQueues(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	blocking := newBlockingCompleter()
	o := newOrchestrator(t, store, blocking, chat.NewMemoryMessenger(),
		func(s *config.Settings) { s.IdleTimeout = time.Minute })

	results := make(chan threadflow.Result, 1)
	sup := o.Supervise(ctx, threadflow.OnClose(func(r threadflow.Result) { results <- r }))

	ev := chat.Event{ChannelID: 1, ThreadID: 5}
	ev.Message = chat.NewMessage("ana", "a")
	_, err := sup.Dispatch(ctx, ev)
	require.NoError(t, err)
	<-blocking.started

	ev.Message = chat.NewMessage("ana", "b")
	_, err = sup.Dispatch(ctx, ev)
	require.NoError(t, err)

	require.NoError(t, sup.Shutdown(ctx))
	assert.Equal(t, 0, sup.Active())

	r := waitResult(t, results)
	assert.Equal(t, threadflow.CloseCancelled, r.Reason)
	var cancelled *threadflow.CancellationError
	assert.ErrorAs(t, r.Err, &cancelled)

	_, err = sup.Dispatch(ctx, ev)
	assert.ErrorIs(t, err, threadflow.ErrShuttingDown)
	assert.ErrorIs(t, sup.Start(ctx, threadflow.Thread{ID: 5}), threadflow.ErrShuttingDown)

	// A fresh process finds the undelivered message in the queue.
	reopened := newOrchestrator(t, store, llm.NewMockCompleter(), chat.NewMemoryMessenger())
	sess := openSession(t, reopened, threadflow.Thread{ID: 5, ChannelID: 1})
	defer sess.Close(ctx)
	assert.Equal(t, 1, sess.Pending())
}

func TestSupervisor_StartDrainsRehydratedQueue(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	messenger := chat.NewMemoryMessenger()
	thread := threadflow.Thread{ID: 11, ChannelID: 1}

	o := newOrchestrator(t, store, llm.NewMockCompleter(), messenger)
	sess := openSession(t, o, thread)
	require.NoError(t, sess.Deliver(chat.NewMessage("ana", "waiting")))
	require.NoError(t, sess.Close(ctx))

	results := make(chan threadflow.Result, 1)
	o = newOrchestrator(t, store, llm.NewMockCompleter("q"), messenger)
	sup := o.Supervise(ctx, threadflow.OnClose(func(r threadflow.Result) { results <- r }))
	defer sup.Shutdown(ctx)

	require.NoError(t, sup.Start(ctx, thread))
	r := waitResult(t, results)
	assert.Equal(t, threadflow.CloseIdle, r.Reason)
	assert.Equal(t, "q", messenger.Sent(thread.ID)[0].Text)
}
