/*
Package threadflow runs multi-turn Socratic dialogues that survive
process restarts without repeating completed external calls.

# Overview

Every side effect of a conversation (consuming a message, calling the
model, posting a reply) is a step recorded in an append-only history
log. When a thread is reopened after a crash, its session runs from the
first turn again: recorded steps return their results instead of
executing, so the model is not re-queried and replies are not re-sent.

The durable pieces are separate packages:
  - blob: key/value stores (memory, file, SQLite, Redis) plus zstd and
    age decorators
  - history: the per-namespace record log over a blob store
  - step: at-most-once steps keyed by conversation position
  - queue: the per-thread message FIFO, snapshotted into the log
  - slot: the thread's active agent, written back on release

# Basic Usage

	store, err := blob.Open(ctx, settings.Store)
	if err != nil {
	    return err
	}
	defer store.Close()

	orch, err := threadflow.New(history.New(store), completer, messenger,
	    threadflow.WithSettings(settings))
	if err != nil {
	    return err
	}

	sess, err := orch.Open(ctx, threadflow.Thread{ID: threadID, ChannelID: channelID})
	if err != nil {
	    return err
	}
	defer sess.Close(ctx) // stashes the queue, writes back the agent slot

	sess.Deliver(chat.NewMessage("ana", "Why is the sky blue?"))
	reason, err := sess.Run(ctx)

# Turns and Step Keys

Turn n records these steps, in order:

	turn-000n/input           the consumed message
	turn-000n/completion      the model response
	turn-000n/completion-000k follow-up after the k-th handoff
	turn-000n/reply           the reply posted to the thread

plus turn-000n/failure-notice or turn-000n/idle-notice when the thread
ends there. Keys depend only on conversation position, never on how many
times the code has run.

# Closing

Run returns a CloseReason. Idle timeout, a close message, the turn limit
and Close while waiting are normal endings with a nil error; the idle
notice is sent if configured. A completion that still fails after
retries is recorded, the failure notice is sent, and Run returns a
*StepError. Errors matching ErrPersistence or ErrCorrupt abort the
thread with no notice, since its state can no longer be trusted.

# Supervision

Supervisor routes chat events to sessions, one per thread, bounded by
max_threads:

	sup := orch.Supervise(ctx, threadflow.OnClose(func(r threadflow.Result) {
	    log.Printf("thread %d closed: %s", r.Thread.ID, r.Reason)
	}))
	thread, err := sup.Dispatch(ctx, chat.Event{ChannelID: 42, Message: msg})
	...
	sup.Shutdown(ctx) // cancels sessions and waits for their flush
*/
package threadflow
