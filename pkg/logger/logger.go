// Package logger provides structured logging using slog with run context support.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// RunIDKey is the context key for the sync or load run ID.
	RunIDKey contextKey = "run_id"
	// ModuleKey is the context key for the hotfix module being processed.
	ModuleKey contextKey = "module"
)

// Logger wraps slog.Logger with additional context-aware methods.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified level and format writing to stdout.
func New(level slog.Level, json bool) *Logger {
	return NewWithWriter(os.Stdout, level, json)
}

// NewWithWriter creates a new Logger writing to w.
func NewWithWriter(w io.Writer, level slog.Level, json bool) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Default creates a logger with default settings (INFO level, JSON format).
func Default() *Logger {
	return New(slog.LevelInfo, true)
}

// ParseLevel maps a level name to a slog level. Unknown names map to INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a new Logger with fields extracted from the context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		logger = logger.With("run_id", runID)
	}

	if module, ok := ctx.Value(ModuleKey).(string); ok && module != "" {
		logger = logger.With("module", module)
	}

	return &Logger{Logger: logger}
}

// WithRunID returns a new Logger with the run ID field.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("run_id", runID),
	}
}

// WithModule returns a new Logger with the module field.
func (l *Logger) WithModule(module string) *Logger {
	return &Logger{
		Logger: l.Logger.With("module", module),
	}
}

// WithComponent returns a new Logger with the component field.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

// WithError returns a new Logger with the error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With("error", err.Error()),
	}
}

// ContextWithRunID adds a run ID to the context.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// ContextWithModule adds a module name to the context.
func ContextWithModule(ctx context.Context, module string) context.Context {
	return context.WithValue(ctx, ModuleKey, module)
}

// RunIDFromContext extracts the run ID from context.
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// ModuleFromContext extracts the module name from context.
func ModuleFromContext(ctx context.Context) string {
	if m, ok := ctx.Value(ModuleKey).(string); ok {
		return m
	}
	return ""
}
