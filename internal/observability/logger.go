// Package observability provides logging and OpenTelemetry integration.
package observability

import (
	"context"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger is the engine's structured logger. Derived loggers carry the
// operation, ingest run or cart session they report on.
type Logger struct {
	zl zerolog.Logger
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level       string
	Format      string // json or console
	Output      io.Writer
	ServiceName string
}

// NewLogger creates a logger. Output defaults to stdout and unknown levels
// fall back to info.
func NewLogger(cfg LogConfig) *Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	return &Logger{zl: ctx.Logger()}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Debug() *LogEvent { return &LogEvent{evt: l.zl.Debug()} }
func (l *Logger) Info() *LogEvent  { return &LogEvent{evt: l.zl.Info()} }
func (l *Logger) Warn() *LogEvent  { return &LogEvent{evt: l.zl.Warn()} }
func (l *Logger) Error() *LogEvent { return &LogEvent{evt: l.zl.Error()} }

// Fatal logs at fatal level and exits once the message is sent.
func (l *Logger) Fatal() *LogEvent { return &LogEvent{evt: l.zl.Fatal()} }

// WithContext returns a logger carrying the request's trace ID, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return l.with("trace_id", traceID)
	}
	return l
}

// WithOperation tags entries with the engine operation being served.
func (l *Logger) WithOperation(op string) *Logger {
	return l.with("operation", op)
}

// WithRun tags entries with an ingestion run ID.
func (l *Logger) WithRun(runID string) *Logger {
	return l.with("run_id", runID)
}

// WithSession tags entries with a cart session ID.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.with("session_id", sessionID)
}

func (l *Logger) with(key, val string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, val).Logger()}
}

// LogEvent is a log entry being built.
type LogEvent struct {
	evt *zerolog.Event
}

func (e *LogEvent) Str(key, val string) *LogEvent {
	e.evt = e.evt.Str(key, val)
	return e
}

func (e *LogEvent) Strs(key string, val []string) *LogEvent {
	e.evt = e.evt.Strs(key, val)
	return e
}

func (e *LogEvent) Int(key string, val int) *LogEvent {
	e.evt = e.evt.Int(key, val)
	return e
}

func (e *LogEvent) Bool(key string, val bool) *LogEvent {
	e.evt = e.evt.Bool(key, val)
	return e
}

func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	e.evt = e.evt.Dur(key, val)
	return e
}

func (e *LogEvent) Err(err error) *LogEvent {
	e.evt = e.evt.Err(err)
	return e
}

// Product adds the product a log entry is about.
func (e *LogEvent) Product(id string) *LogEvent {
	e.evt = e.evt.Str("product_id", id)
	return e
}

// Money adds an amount rounded to millimes, so totals such as
// 10.004000000000001 log as 10.004.
func (e *LogEvent) Money(key string, amount float64) *LogEvent {
	e.evt = e.evt.Float64(key, math.Round(amount*1000)/1000)
	return e
}

// Msg sends the entry.
func (e *LogEvent) Msg(msg string) {
	e.evt.Msg(msg)
}

// parseLevel accepts zerolog level names plus "warning".
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

type contextKey string

const traceIDKey contextKey = "trace_id"

// ContextWithTraceID adds a trace ID to the context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext extracts a trace ID from the context. An explicit
// trace ID wins over the one carried by an active span.
func TraceIDFromContext(ctx context.Context) string {
	if v := ctx.Value(traceIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return spanTraceID(ctx)
}
