package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"compass/internal/shared/logging"

	"go.opentelemetry.io/otel/trace"
)

// LogConfig configures the logger
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

// ParseLevel maps a level name onto slog; unknown names mean info.
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

// NewLogger creates a structured slog logger. Output defaults to stderr so
// stdout stays free for MCP stdio and command output.
func NewLogger(config LogConfig) *slog.Logger {
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(config.Level)}
	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}

// WithTrace tags logger with the trace and span ids active in ctx, if any.
func WithTrace(ctx context.Context, logger logging.Logger) logging.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logging.With(logger, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
