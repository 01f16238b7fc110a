// Package observability provides structured logging and metrics for the
// gateway. Every component logs through the Logger interface so request ids
// and component names flow into each entry.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	requestIDKey contextKey = "requestID"
	componentKey contextKey = "component"
)

// Logger is the structured logging interface used across the gateway.
// The Context variants pull the request id and component out of the
// context and attach them to the entry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// With returns a Logger that attaches the given attributes to every entry.
	With(args ...any) Logger
	// WithComponent returns a Logger tagged with a component name.
	WithComponent(name string) Logger

	// Slog exposes the underlying *slog.Logger for libraries that want one.
	Slog() *slog.Logger
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level to emit: debug, info, warn, error.
	Level string
	// Format selects the handler: json or text.
	Format string
	// Output is the log destination. Defaults to os.Stdout.
	Output io.Writer
	// AddSource includes the file:line of the call site in each entry.
	AddSource bool
}

// DefaultConfig returns JSON logging at info level to stdout.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Output: os.Stdout}
}

// ConfigFromEnv reads VIBEGATE_LOG_LEVEL (debug, info, warn, error) and
// VIBEGATE_LOG_FORMAT (json, text) on top of the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("VIBEGATE_LOG_LEVEL"); v != "" {
		cfg.Level = v
	}
	if v := os.Getenv("VIBEGATE_LOG_FORMAT"); v != "" {
		cfg.Format = v
	}
	return cfg
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// gateLogger implements Logger on top of slog.
type gateLogger struct {
	sl *slog.Logger
}

// NewLogger builds a Logger from cfg. Unknown levels fall back to info,
// unknown formats to JSON.
func NewLogger(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	level, ok := levelNames[strings.ToLower(cfg.Level)]
	if !ok {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return &gateLogger{sl: slog.New(h)}
}

// NewLoggerFromSlog wraps an existing *slog.Logger.
func NewLoggerFromSlog(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &gateLogger{sl: l}
}

func (l *gateLogger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }
func (l *gateLogger) Info(msg string, args ...any)  { l.sl.Info(msg, args...) }
func (l *gateLogger) Warn(msg string, args ...any)  { l.sl.Warn(msg, args...) }
func (l *gateLogger) Error(msg string, args ...any) { l.sl.Error(msg, args...) }

func (l *gateLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.sl.DebugContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *gateLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.sl.InfoContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *gateLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.sl.WarnContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *gateLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.sl.ErrorContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *gateLogger) With(args ...any) Logger {
	return &gateLogger{sl: l.sl.With(args...)}
}

func (l *gateLogger) WithComponent(name string) Logger {
	return l.With("component", name)
}

func (l *gateLogger) Slog() *slog.Logger {
	return l.sl
}

// appendContextFields adds the request id and component from ctx, when
// present, to the attribute list.
func appendContextFields(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	if id := RequestIDFromContext(ctx); id != "" {
		args = append(args, "request_id", id)
	}
	if c := ComponentFromContext(ctx); c != "" {
		args = append(args, "component", c)
	}
	return args
}

// WithRequestID stores the request id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request id from the context, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithComponent stores the component name in the context.
func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return context.WithValue(ctx, componentKey, component)
}

// ComponentFromContext retrieves the component name from the context, or "".
func ComponentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(componentKey).(string)
	return v
}

// FromContext returns a Logger pre-bound to the context's request id and
// component, so plain Info/Error calls still carry them.
func FromContext(ctx context.Context, l Logger) Logger {
	if l == nil {
		l = NewLogger(DefaultConfig())
	}
	if args := appendContextFields(ctx, nil); len(args) > 0 {
		return l.With(args...)
	}
	return l
}
