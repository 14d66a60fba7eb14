package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// New builds the process logger: JSON in deployed environments, text locally.
func New(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if env == "development" || env == "local" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// FromContext returns the default logger annotated with the chi request ID, if any.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		l = l.With("request_id", reqID)
	}
	return l
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
