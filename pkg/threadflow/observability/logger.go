// Package observability provides structured logging, metrics, and tracing
// for threadflow sessions and steps.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
)

// EnrichLogger adds thread context to a logger.
// Returns a new logger with thread_id and channel_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, 1009, 1001)
//	enriched.Info("waiting for input") // includes thread_id, channel_id
func EnrichLogger(logger *slog.Logger, threadID, channelID int64) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.Int64("thread_id", threadID),
		slog.Int64("channel_id", channelID),
	)
}

// LogSessionStart logs the start (or resumption) of a thread session.
func LogSessionStart(logger *slog.Logger, threadID int64, replayableSteps int) {
	if logger == nil {
		return
	}
	logger.Info("session starting",
		slog.Int64("thread_id", threadID),
		slog.Int("recorded_steps", replayableSteps),
	)
}

// LogSessionClosed logs a clean session close.
func LogSessionClosed(logger *slog.Logger, threadID int64, reason string, turns int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("session closed",
		slog.Int64("thread_id", threadID),
		slog.String("reason", reason),
		slog.Int("turns", turns),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogSessionError logs a session aborted by an error.
func LogSessionError(logger *slog.Logger, threadID int64, err error, turns int) {
	if logger == nil {
		return
	}
	logger.Error("session aborted",
		slog.Int64("thread_id", threadID),
		slog.String("error", err.Error()),
		slog.Int("turns", turns),
	)
}

// LogStepExecuted logs a step that ran its operation.
func LogStepExecuted(logger *slog.Logger, key string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("step executed",
		slog.String("step_key", key),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStepReplayed logs a step answered from the history log.
func LogStepReplayed(logger *slog.Logger, key string) {
	if logger == nil {
		return
	}
	logger.Debug("step replayed",
		slog.String("step_key", key),
	)
}

// LogStepFailed logs a step whose operation failed.
func LogStepFailed(logger *slog.Logger, key string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("step failed",
		slog.String("step_key", key),
		slog.String("error", err.Error()),
	)
}

// LogStepInterrupted logs a step found pending on open, which means the
// previous process died while the operation was in flight.
func LogStepInterrupted(logger *slog.Logger, key string) {
	if logger == nil {
		return
	}
	logger.Warn("step was interrupted, it will be re-executed",
		slog.String("step_key", key),
	)
}

// LogSnapshot logs a durable snapshot write.
func LogSnapshot(logger *slog.Logger, namespace string, items int, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("snapshot saved",
		slog.String("namespace", namespace),
		slog.Int("items", items),
		slog.Int("size_bytes", sizeBytes),
	)
}
