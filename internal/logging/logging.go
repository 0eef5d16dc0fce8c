// Package logging provides slog setup and context-aware logging utilities.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// SessionIDKey is the context key for the vault session ID.
type SessionIDKey struct{}

// WithSessionID returns a copy of ctx carrying the session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey{}, id)
}

// GetSessionID returns the session ID from the context, or empty string if not found.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Logger returns the default logger with the session_id from the context.
func Logger(ctx context.Context) *slog.Logger {
	return From(ctx, slog.Default())
}

// From returns base with the session_id from the context.
func From(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id := GetSessionID(ctx); id != "" {
		return base.With("session_id", id)
	}
	return base
}

// ParseLevel maps a configured level name to a slog level.
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

// Setup builds a text or JSON logger writing to w and installs it as the
// default logger.
func Setup(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
