// Package logger provides structured logging using log/slog.
// It sets up a JSON handler with service-level context and carries the
// current trade id through context.Context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey string

const tradeIDKey ctxKey = "trade_id"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps debug, info, warn and error. Anything else is info.
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

// WithTradeID stores a trade id in the context for downstream logging.
func WithTradeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tradeIDKey, id)
}

// TradeID extracts the trade id from context. Returns "" if not set.
func TradeID(ctx context.Context) string {
	if v, ok := ctx.Value(tradeIDKey).(string); ok {
		return v
	}
	return ""
}

// LogWithTrade returns slog attributes including the trade id from context.
// Usage: slog.Info("msg", logger.LogWithTrade(ctx)...)
func LogWithTrade(ctx context.Context) []any {
	id := TradeID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("trade_id", id)}
}
