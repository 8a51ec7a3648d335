// Package logger wraps log/slog with a process-wide JSON handler, following
// the teacher gateway's internal/pkg/logger.
package logger

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

var (
	globalLogger *slog.Logger
	once         sync.Once
)

// Init installs the global JSON slog handler at the given level. Safe to
// call multiple times; only the first call takes effect.
func Init(level string) {
	once.Do(func() {
		var logLevel slog.Level
		switch level {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		default:
			logLevel = slog.LevelInfo
		}
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
		globalLogger = slog.New(handler)
		slog.SetDefault(globalLogger)
	})
}

// Get returns the global logger, initializing it at info level if needed.
func Get() *slog.Logger {
	if globalLogger == nil {
		Init("info")
	}
	return globalLogger
}

func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }

func With(args ...any) *slog.Logger { return Get().With(args...) }

// LogError logs err with msg, adding an "error" attribute; no-op if err is nil.
func LogError(ctx context.Context, err error, msg string, args ...any) {
	if err == nil {
		return
	}
	args = append(args, slog.String("error", err.Error()))
	Get().ErrorContext(ctx, msg, args...)
}
