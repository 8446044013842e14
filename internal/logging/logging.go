// Package logging provides structured JSON logging for the recsync agent.
// It uses the standard library log/slog package for structured logging.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps debug, info, warn and error to slog levels. Unknown
// names fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewLogger creates a new structured JSON logger on stdout.
func NewLogger(level string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo is NewLogger writing to w. The CLI logs to stderr so progress
// bars and reports on stdout stay readable.
func NewLoggerTo(w io.Writer, level string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		// Add source location for debug level
		AddSource: lvl == slog.LevelDebug,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// WithRequestID returns a logger with request_id attribute
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

// WithComponent returns a logger with component attribute
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithBatchID returns a logger with batch_id attribute
func WithBatchID(logger *slog.Logger, batchID string) *slog.Logger {
	return logger.With("batch_id", batchID)
}

// WithDevice returns a logger with device_id attribute
func WithDevice(logger *slog.Logger, deviceID string) *slog.Logger {
	return logger.With("device_id", deviceID)
}

// SanitizeToken masks a token for safe logging.
// Shows first 4 and last 4 characters only.
// Returns "****" for tokens of 8 characters or fewer.
func SanitizeToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizePath replaces the home directory prefix of path with ~.
func SanitizePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home || strings.HasPrefix(path, home+string(os.PathSeparator)) {
		return "~" + path[len(home):]
	}
	return path
}
