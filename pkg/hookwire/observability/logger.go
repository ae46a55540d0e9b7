// Package observability provides production-grade observability features
// for hookwire: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// EnrichLogger adds dispatch context to a logger.
// Returns a new logger with dispatch_id, pattern, and activity fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "evt-123", "GitHubPush", "push")
//	enriched.Info("handling") // includes dispatch_id, pattern, activity
func EnrichLogger(logger *slog.Logger, dispatchID, pattern, activity string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("dispatch_id", dispatchID),
		slog.String("pattern", pattern),
		slog.String("activity", activity),
	)
}

// LogDispatchStart logs the start of an event dispatch.
func LogDispatchStart(logger *slog.Logger, dispatchID, pattern, activity string, handlerCount int) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch starting",
		slog.String("dispatch_id", dispatchID),
		slog.String("pattern", pattern),
		slog.String("activity", activity),
		slog.Int("handlers", handlerCount),
	)
}

// LogDispatchComplete logs dispatch completion, at warn level when any
// handler failed.
func LogDispatchComplete(logger *slog.Logger, dispatchID, activity string, success bool, handlerCount int, elapsed time.Duration) {
	if logger == nil {
		return
	}
	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "dispatch completed",
		slog.String("dispatch_id", dispatchID),
		slog.String("activity", activity),
		slog.Bool("success", success),
		slog.Int("handlers", handlerCount),
		slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
	)
}

// LogDispatchError logs a dispatch aborted by a handler failure.
func LogDispatchError(logger *slog.Logger, dispatchID string, err error, elapsed time.Duration) {
	if logger == nil {
		return
	}
	logger.Error("dispatch failed",
		slog.String("dispatch_id", dispatchID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
	)
}

// LogHandlerError logs a single handler failure.
func LogHandlerError(logger *slog.Logger, dispatchID, handler string, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler failed",
		slog.String("dispatch_id", dispatchID),
		slog.String("handler", handler),
		slog.String("error", err.Error()),
	)
}

// LogTriggerError logs a definition trigger failure (non-fatal).
func LogTriggerError(logger *slog.Logger, dispatchID, trigger string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("trigger failed",
		slog.String("dispatch_id", dispatchID),
		slog.String("trigger", trigger),
		slog.String("error", err.Error()),
	)
}

// LogPluginLoaded logs a successful plugin load.
func LogPluginLoaded(logger *slog.Logger, plugin string, definitions, handlers int) {
	if logger == nil {
		return
	}
	logger.Info("plugin loaded",
		slog.String("plugin", plugin),
		slog.Int("definitions", definitions),
		slog.Int("handlers", handlers),
	)
}

// LogPluginUnloaded logs a plugin unload.
func LogPluginUnloaded(logger *slog.Logger, plugin string) {
	if logger == nil {
		return
	}
	logger.Info("plugin unloaded",
		slog.String("plugin", plugin),
	)
}

// LogPluginError logs a plugin load or unload failure.
func LogPluginError(logger *slog.Logger, plugin string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("plugin operation failed",
		slog.String("plugin", plugin),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
