package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"contractflow/internal/config"
)

type ctxKey string

const (
	// RequestIDKey carries the request id set by the request-id middleware.
	RequestIDKey ctxKey = "request_id"
	// UserIDKey carries the authenticated user id.
	UserIDKey ctxKey = "user_id"
)

// Init installs the process-wide slog handler.
func Init(cfg config.LogConfig) {
	slog.SetDefault(New(os.Stdout, cfg))
}

// New builds a logger writing to w with the configured level and format.
func New(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(s string) slog.Level {
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

// WithRequestID stores id on ctx for later log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithUserID stores the acting user on ctx for later log lines.
func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

// FromContext returns the default logger enriched with request scoped attributes.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if ctx == nil {
		return l
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		l = l.With("request_id", id)
	}
	if uid, ok := ctx.Value(UserIDKey).(int64); ok && uid != 0 {
		l = l.With("user_id", uid)
	}
	return l
}
