// Package logging is the relay's process-wide logger. It keeps the small
// Info/Error/Debug surface used across the codebase and writes through
// log/slog so the event system and the CLI share one handler.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	disabled atomic.Bool
	level    = new(slog.LevelVar)

	mu     sync.RWMutex
	out    io.Writer = os.Stdout
	format           = "text"
	logger           = newLogger(out, format)
)

func newLogger(w io.Writer, f string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if f == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Disable turns off all logging
func Disable() {
	disabled.Store(true)
}

// Enable turns logging back on
func Enable() {
	disabled.Store(false)
}

// SetLevel sets the minimum level: debug, info, warn or error.
// Unknown values fall back to info.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// ParseLevel converts a level name into a slog.Level
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// SetFormat switches between "text" and "json" output
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	format = f
	logger = newLogger(out, format)
}

// SetOutput redirects log output, mainly for tests. nil restores stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	mu.Lock()
	defer mu.Unlock()
	out = w
	logger = newLogger(out, format)
}

// Logger returns the underlying structured logger
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func log(l slog.Level, msg string) {
	if disabled.Load() {
		return
	}
	Logger().Log(context.Background(), l, msg)
}

// Info logs an info message
func Info(v ...any) {
	log(slog.LevelInfo, fmt.Sprint(v...))
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	log(slog.LevelInfo, fmt.Sprintf(format, v...))
}

// Error logs an error message
func Error(v ...any) {
	log(slog.LevelError, fmt.Sprint(v...))
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	log(slog.LevelError, fmt.Sprintf(format, v...))
}

// Warn logs a warning message
func Warn(v ...any) {
	log(slog.LevelWarn, fmt.Sprint(v...))
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	log(slog.LevelWarn, fmt.Sprintf(format, v...))
}

// Debug logs a debug message
func Debug(v ...any) {
	log(slog.LevelDebug, fmt.Sprint(v...))
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	log(slog.LevelDebug, fmt.Sprintf(format, v...))
}
