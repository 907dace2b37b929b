// Package utils provides shared helpers for logging.
package utils

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

// InitLogger configures the global logger. Level is taken from
// QUERYPILOT_LOG_LEVEL (debug, info, warn, error); default is info.
// Set QUERYPILOT_LOG_JSON=1 for JSON output.
func InitLogger() {
	loggerOnce.Do(func() {
		level := parseLevel(os.Getenv("QUERYPILOT_LOG_LEVEL"))
		opts := &slog.HandlerOptions{Level: level}

		var handler slog.Handler
		if os.Getenv("QUERYPILOT_LOG_JSON") == "1" {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(os.Stderr, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// GetLogger returns the global logger, initializing it if needed.
func GetLogger() *slog.Logger {
	InitLogger()
	return logger
}

func parseLevel(s string) slog.Level {
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
