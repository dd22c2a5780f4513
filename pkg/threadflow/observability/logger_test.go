package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger returns a debug-level JSON logger and its output buffer.
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestEnrichLogger(t *testing.T) {
	assert.Nil(t, EnrichLogger(nil, 5, 1))

	logger, buf := captureLogger()
	EnrichLogger(logger, 5005, 99).Info("hello")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.EqualValues(t, 5005, got[0]["thread_id"])
	assert.EqualValues(t, 99, got[0]["channel_id"])
}

func TestLogHelpers(t *testing.T) {
	logger, buf := captureLogger()

	LogSessionStart(logger, 1, 3)
	LogStepExecuted(logger, "turn-0000/input", 1.5)
	LogStepReplayed(logger, "turn-0000/completion")
	LogStepFailed(logger, "turn-0000/reply", errors.New("send failed"))
	LogStepInterrupted(logger, "turn-0001/completion")
	LogSnapshot(logger, "queue/1", 2, 40)
	LogSessionClosed(logger, 1, "idle_timeout", 1, 10)
	LogSessionError(logger, 1, errors.New("disk full"), 1)

	got := lines(t, buf)
	require.Len(t, got, 8)
	assert.Equal(t, "session starting", got[0]["msg"])
	assert.Equal(t, "turn-0000/input", got[1]["step_key"])
	assert.Equal(t, "step replayed", got[2]["msg"])
	assert.Equal(t, "WARN", got[3]["level"])
	assert.Equal(t, "send failed", got[3]["error"])
	assert.Equal(t, "WARN", got[4]["level"])
	assert.Equal(t, "queue/1", got[5]["namespace"])
	assert.Equal(t, "idle_timeout", got[6]["reason"])
	assert.Equal(t, "ERROR", got[7]["level"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogSessionStart(nil, 1, 0)
		LogSessionClosed(nil, 1, "r", 0, 0)
		LogSessionError(nil, 1, errors.New("x"), 0)
		LogStepExecuted(nil, "k", 0)
		LogStepReplayed(nil, "k")
		LogStepFailed(nil, "k", errors.New("x"))
		LogStepInterrupted(nil, "k")
		LogSnapshot(nil, "n", 0, 0)
	})
}
