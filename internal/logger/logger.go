// Package logger holds the process-wide structured logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Formats accepted by Configure.
const (
	FormatJSON    = "json"
	FormatText    = "text"
	FormatConsole = "console"
)

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
)

// Options selects level, encoding and destination of the default logger.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// Configure replaces the default logger.
func Configure(opts Options) error {
	h, err := NewHandler(opts)
	if err != nil {
		return err
	}
	mu.Lock()
	defaultLogger = slog.New(h)
	mu.Unlock()
	return nil
}

// NewHandler builds a slog.Handler from opts without installing it.
func NewHandler(opts Options) (slog.Handler, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(opts.Format) {
	case "", FormatJSON:
		return slog.NewJSONHandler(out, hopts), nil
	case FormatText:
		return slog.NewTextHandler(out, hopts), nil
	case FormatConsole:
		return NewConsoleHandler(out, level), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
}

// ParseLevel maps debug|info|warn|error to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Get returns the default structured logger.
func Get() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return defaultLogger
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDefault returns l, or the default logger when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Get()
	}
	return l
}

// Info logs an info level message
func Info(msg string, args ...any) { Get().Info(msg, args...) }

// Warn logs a warning level message
func Warn(msg string, args ...any) { Get().Warn(msg, args...) }

// Error logs an error level message
func Error(msg string, args ...any) { Get().Error(msg, args...) }

// Debug logs a debug level message
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }

// ErrorContext logs an error level message with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Get().ErrorContext(ctx, msg, args...)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger { return Get().With(args...) }
