package sqstore

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with store-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithPath adds the store path to every record.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogOpen logs a store open.
func (l *Logger) LogOpen(ctx context.Context, mode Mode, libraries, reads uint32, generation uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"mode", mode.String(),
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "store opened",
		"mode", mode.String(),
		"libraries", libraries,
		"reads", reads,
		"generation", generation,
	)
}

// LogFlush logs a catalog flush.
func (l *Logger) LogFlush(ctx context.Context, generation uint64, reads uint32, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"generation", generation,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "flush completed",
		"generation", generation,
		"reads", reads,
		"elapsed", elapsed,
	)
}

// LogClose logs a store close.
func (l *Logger) LogClose(ctx context.Context, mode Mode, err error) {
	if err != nil {
		l.ErrorContext(ctx, "close failed",
			"mode", mode.String(),
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "store closed",
		"mode", mode.String(),
	)
}

// LogPartitionBuild logs a partition build.
func (l *Logger) LogPartitionBuild(ctx context.Context, partitions, reads uint32, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "partition build failed",
			"partitions", partitions,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "partition build completed",
		"partitions", partitions,
		"reads", reads,
		"elapsed", elapsed,
	)
}

// LogIntegrity logs a counter mismatch found on open.
func (l *Logger) LogIntegrity(ctx context.Context, err error) {
	l.WarnContext(ctx, "stored counters disagree with catalog",
		"error", err,
	)
}
