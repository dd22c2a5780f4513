package threadflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/threadflow/pkg/threadflow"
	"github.com/randalmurphal/threadflow/pkg/threadflow/blob"
	"github.com/randalmurphal/threadflow/pkg/threadflow/chat"
	"github.com/randalmurphal/threadflow/pkg/threadflow/config"
	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
	"github.com/randalmurphal/threadflow/pkg/threadflow/history"
	"github.com/randalmurphal/threadflow/pkg/threadflow/llm"
	"github.com/randalmurphal/threadflow/pkg/threadflow/step"
)

var testThread = threadflow.Thread{ID: 7, ChannelID: 1}

func testSettings() config.Settings {
	s := config.Default()
	s.IdleTimeout = 50 * time.Millisecond
	s.Retry = tferrors.NoRetry
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOrchestrator builds an orchestrator over a fresh Log on store, the
// way a restarted process would.
func newOrchestrator(t *testing.T, store blob.Store, completer llm.Completer, messenger chat.Messenger, mutate ...func(*config.Settings)) *threadflow.Orchestrator {
	t.Helper()
	s := testSettings()
	for _, m := range mutate {
		m(&s)
	}
	o, err := threadflow.New(history.New(store), completer, messenger,
		threadflow.WithSettings(s),
		threadflow.WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	return o
}

func openSession(t *testing.T, o *threadflow.Orchestrator, thread threadflow.Thread) *threadflow.Session {
	t.Helper()
	sess, err := o.Open(context.Background(), thread)
	require.NoError(t, err)
	return sess
}

func texts(sent []chat.Sent) []string {
	out := make([]string, 0, len(sent))
	for _, s := range sent {
		out = append(out, s.Text)
	}
	return out
}

// failingStore fails writes on demand.
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

// blockingCompleter answers the first n calls from texts and blocks any
// later call until its context ends. started is closed when the first
// blocking call begins.
type blockingCompleter struct {
	texts   []string
	calls   int
	started chan struct{}
}

func newBlockingCompleter(texts ...string) *blockingCompleter {
	return &blockingCompleter{texts: texts, started: make(chan struct{})}
}

func (b *blockingCompleter) Complete(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	b.calls++
	if b.calls <= len(b.texts) {
		return llm.TextResponse(b.texts[b.calls-1]), nil
	}
	if b.calls == len(b.texts)+1 {
		close(b.started)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// recordInput records msg as testThread's first input directly in the
// step table and returns the number of recorded steps.
func recordInput(t *testing.T, log *history.Log, msg chat.Message) int {
	t.Helper()
	ctx := context.Background()
	rec, err := step.Open(ctx, log, threadflow.RunNamespace(testThread.ID))
	require.NoError(t, err)
	_, err = step.Do(ctx, rec, step.Key("turn", 1, "input"), func(context.Context) (chat.Message, error) {
		return msg, nil
	})
	require.NoError(t, err)
	return rec.Len()
}
