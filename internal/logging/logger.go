package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger so handlers and services share one field-aware type.
type Logger struct {
	*slog.Logger
}

// NewLogger returns a text logger at debug level in development and a JSON
// logger at info level otherwise.
func NewLogger(isDev bool) *Logger {
	return newLogger(os.Stdout, isDev)
}

func newLogger(w io.Writer, isDev bool) *Logger {
	if isDev {
		return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func New(h slog.Handler) *Logger {
	return &Logger{Logger: slog.New(h)}
}

// Discard drops every record. Used by tests and the CLI's quiet mode.
func Discard() *Logger {
	return New(slog.NewTextHandler(io.Discard, nil))
}

// WithFields returns a child logger carrying the given attributes.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithError attaches err under the "error" key.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.Logger.With("error", err.Error())}
}
