// Package observability provides structured logging helpers for Mira.
//
// It wraps log/slog so that the binary configures one handler at startup
// and every component logs through child loggers derived from it.
package observability

import (
	"log/slog"
	"os"
)

// Setup configures the global slog logger according to the provided level and
// format strings (e.g. level="info", format="json").
func Setup(level, format string) {
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

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// Component returns a child logger tagged with the given component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}
