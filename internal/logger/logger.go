// Package logger builds the slog loggers used across the CLI and provides
// attribute helpers shared by every package.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls logger construction.
type Options struct {
	// Writer receives log records. Defaults to os.Stderr so stdout stays
	// reserved for command output.
	Writer io.Writer
	// Debug forces the debug level regardless of the environment.
	Debug bool
	// JSON selects the JSON handler instead of the text handler.
	JSON bool
}

// New creates a logger from opts, applying the environment defaults.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	level := LevelFromEnv()
	if opts.Debug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.JSON || os.Getenv("GO_ENV") == "production" || strings.EqualFold(os.Getenv("STUDIO_LOG_FORMAT"), "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

// LevelFromEnv reads STUDIO_LOG_LEVEL, then LOG_LEVEL.
func LevelFromEnv() slog.Level {
	raw := os.Getenv("STUDIO_LOG_LEVEL")
	if raw == "" {
		raw = os.Getenv("LOG_LEVEL")
	}
	return ParseLevel(raw)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Scope tags a record with the component that produced it.
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error attaches an error under the "error" key.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
