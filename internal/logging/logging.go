// Package logging provides structured logging for the netmon daemon.
//
// This package wraps the standard library's log/slog package so every
// component logs the same way. It supports text and JSON output, a level
// parsed from configuration, and component-scoped loggers.
//
// Usage:
//
//	logging.Init(slog.LevelInfo, false)
//
//	log := logging.Component("prober")
//	log.Info("prober started", "targets", 3)
//
//	ctx = logging.ContextWithTarget(ctx, "1.1.1.1")
//	logging.WithContext(ctx).Warn("append failed", "error", err)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stdout, level, jsonFormat)
}

// InitWriter is Init with a custom destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel converts a config level name to a slog.Level.
// The empty string maps to info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Component returns a logger for a specific component.
//
// Component loggers are package-level variables in most packages, so they
// are created before main has called Init. They delegate to slog.Default at
// log time, which is why Init must call slog.SetDefault.
//
// Example:
//
//	log := logging.Component("storage")
//	log.Info("store opened") // Output: time=... level=INFO msg="store opened" component=storage
func Component(name string) *slog.Logger {
	return slog.New(defaultHandler{}).With("component", name)
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	return slog.New(defaultHandler{}).With(args...)
}

// WithContext returns a logger that includes target, network and request
// values stored in ctx.
func WithContext(ctx context.Context) *slog.Logger {
	logger := slog.New(defaultHandler{})

	if target, ok := ctx.Value(contextKeyTarget).(string); ok {
		logger = logger.With("target", target)
	}
	if network, ok := ctx.Value(contextKeyNetwork).(string); ok {
		logger = logger.With("network", network)
	}
	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		logger = logger.With("request_id", requestID)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyTarget contextKey = iota
	contextKeyNetwork
	contextKeyRequestID
)

// ContextWithTarget adds a probe target to the context for logging.
func ContextWithTarget(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, contextKeyTarget, target)
}

// ContextWithNetwork adds a network name to the context for logging.
func ContextWithNetwork(ctx context.Context, network string) context.Context {
	return context.WithValue(ctx, contextKeyNetwork, network)
}

// ContextWithRequestID adds an API request ID to the context for logging.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// defaultHandler forwards records to whatever handler slog.Default holds at
// the time of logging.
type defaultHandler struct {
	attrs []slog.Attr
	group string
}

func (h defaultHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slog.Default().Handler().Enabled(ctx, level)
}

func (h defaultHandler) Handle(ctx context.Context, r slog.Record) error {
	var target slog.Handler = slog.Default().Handler()
	if h.group != "" {
		target = target.WithGroup(h.group)
	}
	if len(h.attrs) > 0 {
		target = target.WithAttrs(h.attrs)
	}
	return target.Handle(ctx, r)
}

func (h defaultHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return defaultHandler{attrs: merged, group: h.group}
}

func (h defaultHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	g := name
	if h.group != "" {
		g = h.group + "." + name
	}
	return defaultHandler{attrs: h.attrs, group: g}
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	slog.Default().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	slog.Default().Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	slog.Default().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	slog.Default().Error(msg, args...)
}
