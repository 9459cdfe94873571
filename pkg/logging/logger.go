package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Component names used across the gateway.
const (
	ComponentGateway     = "gateway"
	ComponentEventStream = "eventstream"
	ComponentTerminal    = "terminal"
	ComponentChatStream  = "chatstream"
	ComponentAuth        = "auth"
	ComponentDirectory   = "directory"
	ComponentBus         = "bus"
	ComponentHub         = "hub"
)

// Logger is a structured logger for gateway components
type Logger struct {
	*slog.Logger
}

// Options controls where and how much is logged.
type Options struct {
	Level  slog.Level
	Output io.Writer
	Text   bool
}

// NewLogger creates a new structured logger writing JSON to stderr.
func NewLogger(component string, level slog.Level) *Logger {
	return NewLoggerWithOptions(component, Options{Level: level})
}

// NewLoggerWithOptions creates a logger with an explicit destination.
func NewLoggerWithOptions(component string, opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.Text {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "hubgate"),
	)
	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything. Used as the default when a
// component is built without one.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// ParseLevel maps a config string to a slog level. Unknown values fall back to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// Named returns a logger for another component sharing the same handler.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("subcomponent", component))}
}

// With returns a logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithContext returns a logger carrying the request id stored in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return &Logger{Logger: l.Logger.With(slog.String("request_id", id))}
	}
	return l
}

// WithEndpoint returns a logger with endpoint-specific fields
func (l *Logger) WithEndpoint(baseURL string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("endpoint", baseURL))}
}

// WithTask returns a logger with task-specific fields
func (l *Logger) WithTask(taskID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("task_id", taskID))}
}

type requestIDKey struct{}

// ContextWithRequestID stores a request id for WithContext.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestRetried logs a retry of a unary call
func (l *Logger) RequestRetried(method, route string, attempt int, err error) {
	l.Debug("request retried",
		slog.String("method", method),
		slog.String("route", route),
		slog.Int("attempt", attempt),
		slog.String("error", errString(err)),
	)
}

// CacheHit logs a cached read served without a network call
func (l *Logger) CacheHit(key string, age time.Duration) {
	l.Debug("cache hit",
		slog.String("key", key),
		slog.Float64("age_ms", float64(age.Microseconds())/1000),
	)
}

// StreamReconnecting logs a reconnect scheduled after a transport error
func (l *Logger) StreamReconnecting(route string, delay time.Duration, err error) {
	l.Warn("stream disconnected, reconnecting",
		slog.String("route", route),
		slog.Duration("delay", delay),
		slog.String("error", errString(err)),
	)
}

// FrameDropped logs a malformed frame that was discarded
func (l *Logger) FrameDropped(route string, size int, err error) {
	l.Debug("frame dropped",
		slog.String("route", route),
		slog.Int("size", size),
		slog.String("error", errString(err)),
	)
}

// StateChanged logs a connection state machine transition
func (l *Logger) StateChanged(from, to string) {
	l.Debug("state changed",
		slog.String("from", from),
		slog.String("to", to),
	)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
