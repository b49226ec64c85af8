package logging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
)

// Logger defines a minimal, printf-style logging contract.
//
// Engine components accept a Logger through their options and fall back to
// Nop, so library callers that do not care about logs get none.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// isNil reports whether logger is nil or wraps a nil pointer receiver.
func isNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if isNil(logger) {
		return Nop()
	}
	return logger
}

// slogLogger formats printf-style messages and hands them to slog with a
// component attribute.
type slogLogger struct {
	base      *slog.Logger
	component string
}

// NewComponentLogger returns a logger scoped to component that writes through
// the process-wide slog default (see observability.NewLogger).
func NewComponentLogger(component string) Logger {
	return &slogLogger{component: component}
}

// NewSlogLogger scopes an explicit slog.Logger to component.
func NewSlogLogger(base *slog.Logger, component string) Logger {
	if base == nil {
		return NewComponentLogger(component)
	}
	return &slogLogger{base: base, component: component}
}

func (l *slogLogger) logger() *slog.Logger {
	if l.base != nil {
		return l.base
	}
	return slog.Default()
}

func (l *slogLogger) log(level slog.Level, format string, args ...any) {
	logger := l.logger()
	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if l.component == "" {
		logger.Log(ctx, level, msg)
		return
	}
	logger.Log(ctx, level, msg, slog.String("component", l.component))
}

func (l *slogLogger) Debug(format string, args ...any) { l.log(slog.LevelDebug, format, args...) }
func (l *slogLogger) Info(format string, args ...any)  { l.log(slog.LevelInfo, format, args...) }
func (l *slogLogger) Warn(format string, args ...any)  { l.log(slog.LevelWarn, format, args...) }
func (l *slogLogger) Error(format string, args ...any) { l.log(slog.LevelError, format, args...) }

// With returns logger carrying extra key/value attributes on every record.
// Loggers that cannot carry attributes are returned unchanged.
func With(logger Logger, args ...any) Logger {
	if w, ok := logger.(interface{ with(args ...any) Logger }); ok && len(args) > 0 {
		return w.with(args...)
	}
	return logger
}

func (l *slogLogger) with(args ...any) Logger {
	return &slogLogger{base: l.logger().With(args...), component: l.component}
}
