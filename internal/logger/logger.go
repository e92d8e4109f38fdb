package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New constructs the process logger for service. LOG_LEVEL picks the level and
// LOG_FORMAT=json switches from text to JSON output.
func New(service string) *slog.Logger {
	return build(os.Stdout, service, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

func build(w io.Writer, service, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", service)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
