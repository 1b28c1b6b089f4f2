package util

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

var (
	mu       sync.RWMutex
	logLevel = new(slog.LevelVar)
	logger   *slog.Logger
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				// Format time as HH:MM:SS
				if t, ok := a.Value.Any().(interface{ Format(string) string }); ok {
					return slog.String(slog.TimeKey, t.Format("15:04:05"))
				}
			}
			return a
		},
	})
	logger = slog.New(handler)
}

// Debug logs a debug message using the default logger.
func Debug(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Debug(fmt.Sprintf(format, args...))
}

// Info logs an info message using the default logger.
func Info(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message using the default logger.
func Warn(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message using the default logger.
func Error(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Error(fmt.Sprintf(format, args...))
}

// SetVerbose toggles debug-level output on the default logger.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		logLevel.Set(slog.LevelDebug)
	} else {
		logLevel.Set(slog.LevelInfo)
	}
}

// Slog returns the underlying slog.Logger for structured logging.
func Slog() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns a logger with additional attributes.
func With(args ...any) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With(args...)
}
