// Package logger wraps log/slog with the session- and connection-scoped
// helpers the bridge's session, manager, and WebSocket layers share, so a
// log line tied to a BLE session or a WebSocket connection carries the
// same correlation key everywhere instead of every call site restating
// "session", id or "conn", id by hand.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger. A nil *Logger is safe to call: every method
// below no-ops instead of dereferencing a nil embedded slog.Logger, so the
// many optional log fields across pkg/session, pkg/sessionmgr,
// pkg/wshandler, pkg/bridgefront, and pkg/observability don't each need an
// `if log != nil` guard at every call site.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "text", "json"
	Output string // "stdout", "file"
	File   string // path to log file, when Output is "file"
}

var globalLogger *Logger

// New creates a new Logger instance.
func New(config Config) *Logger {
	var handler slog.Handler
	var level slog.Level

	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	writer := os.Stdout
	if config.Output == "file" && config.File != "" {
		f, err := os.OpenFile(config.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			writer = f
		} else {
			fmt.Fprintf(os.Stderr, "logger: failed to open %q, falling back to stdout: %v\n", config.File, err)
		}
	}

	if strings.ToLower(config.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	l := &Logger{
		Logger: slog.New(handler),
	}

	if globalLogger == nil {
		globalLogger = l
	}

	return l
}

// Global returns the global logger instance.
func Global() *Logger {
	if globalLogger == nil {
		return New(Config{Level: "info", Format: "text"})
	}
	return globalLogger
}

// SetGlobal sets the global logger instance.
func SetGlobal(l *Logger) {
	globalLogger = l
}

// WithSession returns a child logger carrying a "session" attribute, used
// throughout pkg/session and pkg/sessionmgr so every line about a
// session's lifecycle (admission, state transitions, cleanup, sweeper
// eviction) is correlatable by session id without repeating the key/value
// pair at every call site.
func (l *Logger) WithSession(sessionID string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{Logger: l.Logger.With("session", sessionID)}
}

// WithConn returns a child logger carrying a "conn" attribute, used by
// pkg/wshandler to distinguish the WebSocket connection id from the
// session id it is attached to — a session can outlive several
// connections across a grace-period reconnect, so the two ids are
// tracked separately.
func (l *Logger) WithConn(connID string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{Logger: l.Logger.With("conn", connID)}
}

// Debug is a nil-receiver-safe wrapper around the embedded slog.Logger.
func (l *Logger) Debug(msg string, args ...any) {
	if l == nil {
		return
	}
	l.Logger.Debug(msg, args...)
}

// Info is a nil-receiver-safe wrapper around the embedded slog.Logger.
func (l *Logger) Info(msg string, args ...any) {
	if l == nil {
		return
	}
	l.Logger.Info(msg, args...)
}

// Warn is a nil-receiver-safe wrapper around the embedded slog.Logger.
func (l *Logger) Warn(msg string, args ...any) {
	if l == nil {
		return
	}
	l.Logger.Warn(msg, args...)
}

// Error is a nil-receiver-safe wrapper around the embedded slog.Logger.
func (l *Logger) Error(msg string, args ...any) {
	if l == nil {
		return
	}
	l.Logger.Error(msg, args...)
}
