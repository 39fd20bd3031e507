// Package logging provides component-scoped structured logging used across
// Foreman's services. It wraps log/slog behind the printf-style call shape
// the rest of the codebase expects.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Logger is the logging surface every component depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	With(kv ...any) Logger
}

type componentLogger struct {
	name string
	base *slog.Logger
}

var defaultHandler slog.Handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})

// SetLevel sets the minimum log level for loggers created by
// NewComponentLogger after the call; loggers created earlier keep their
// level. Valid values are "debug", "info", "warn", "error"; anything else is
// treated as "info".
func SetLevel(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	defaultHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
}

// NewComponentLogger returns a Logger tagged with the given component name,
// e.g. logging.NewComponentLogger("RunManager").
func NewComponentLogger(name string) Logger {
	return &componentLogger{name: name, base: slog.New(defaultHandler)}
}

// NewComponentLoggerWithHandler is NewComponentLogger with an explicit
// slog.Handler, used by tests that need to inspect emitted records.
func NewComponentLoggerWithHandler(name string, handler slog.Handler) Logger {
	return &componentLogger{name: name, base: slog.New(handler)}
}

// OrNop returns l if non-nil, otherwise a Logger that discards everything.
// Used by constructors that accept an optional logger dependency.
func OrNop(l Logger) Logger {
	if l != nil {
		return l
	}
	return nopLogger{}
}

func (c *componentLogger) Debug(format string, args ...any) { c.log(slog.LevelDebug, format, args...) }
func (c *componentLogger) Info(format string, args ...any)  { c.log(slog.LevelInfo, format, args...) }
func (c *componentLogger) Warn(format string, args ...any)  { c.log(slog.LevelWarn, format, args...) }
func (c *componentLogger) Error(format string, args ...any) { c.log(slog.LevelError, format, args...) }

func (c *componentLogger) log(level slog.Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	c.base.Log(context.Background(), level, msg, "component", c.name)
}

func (c *componentLogger) With(kv ...any) Logger {
	return &componentLogger{name: c.name, base: c.base.With(kv...)}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) With(...any) Logger   { return nopLogger{} }

// LatencyLogger records operation durations under a single component tag,
// e.g. logging.NewLatencyLogger("HTTP").
type LatencyLogger struct {
	logger Logger
}

// NewLatencyLogger returns a LatencyLogger tagged with the given component name.
func NewLatencyLogger(name string) *LatencyLogger {
	return &LatencyLogger{logger: NewComponentLogger(name)}
}

// NewLatencyLoggerFrom wraps an existing Logger instead of constructing one,
// used by tests that need to inspect emitted records.
func NewLatencyLoggerFrom(logger Logger) *LatencyLogger {
	return &LatencyLogger{logger: logger}
}

// Record logs how long an operation took.
func (l *LatencyLogger) Record(operation string, millis int64) {
	l.logger.Info("%s latency_ms=%d", operation, millis)
}
