// Package logger provides structured logging for the alert bridge.
// It wraps log/slog with JSON formatting; every operational log line is
// a single JSON object with a mandatory "event" field so downstream
// tooling can filter on stable event names.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the application logger
type Logger struct {
	*slog.Logger
}

// New creates a new logger instance with JSON formatting
func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter creates a new logger instance with JSON formatting writing to the provided writer
func NewWithWriter(level string, w io.Writer) *Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			if a.Key == slog.LevelKey {
				a.Key = "level"
				level := a.Value.String()
				if level == "WARN" {
					level = "warning"
				} else {
					level = strings.ToLower(level)
				}
				a.Value = slog.StringValue(level)
			}
			if a.Key == slog.MessageKey {
				a.Key = "message"
			}
			return a
		},
	}
	handler := slog.NewJSONHandler(w, opts)
	return &Logger{Logger: slog.New(handler)}
}

// WithModule creates a new entry with module field
func (l *Logger) WithModule(module string) *Logger {
	return &Logger{Logger: l.With("module", module)}
}

// WithCycleID creates a new entry with cycle ID field for correlating
// all log lines emitted by one reconciliation cycle.
func (l *Logger) WithCycleID(cycleID string) *Logger {
	return &Logger{Logger: l.With("cycle_id", cycleID)}
}

// WithError creates a new entry with a redacted error field.
// Error strings may embed upstream URLs carrying the service key, so
// they always pass through Redact before leaving the process.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.With("error", Redact(err.Error()))}
}

// WithField creates a new entry with a single field
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Logger: l.With(key, value)}
}

// WithFields creates a new entry with multiple fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.With(args...)}
}

// Event logs a structured event at info level. The event name becomes
// both the message and the "event" field.
func (l *Logger) Event(event string, args ...any) {
	l.Info(event, append([]any{"event", event}, args...)...)
}

// EventWarn logs a structured event at warning level.
func (l *Logger) EventWarn(event string, args ...any) {
	l.Warn(event, append([]any{"event", event}, args...)...)
}

// EventError logs a structured event at error level.
func (l *Logger) EventError(event string, args ...any) {
	l.Error(event, append([]any{"event", event}, args...)...)
}
