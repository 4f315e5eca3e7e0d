package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var Log *slog.Logger

// Init initializes the global slog logger at Info level. Sink and level may
// be overridden via ROOMSYNC_LOG_SINK (e.g. "file:/path/to/log") and
// ROOMSYNC_LOG_LEVEL for tests and production.
func Init() {
	InitWith("", "")
}

// InitWith initializes the global logger honoring the provided level
// ("debug", "info", "warn", "error") and format ("text" or "json"). Empty
// values fall back to the ROOMSYNC_LOG_LEVEL / ROOMSYNC_LOG_FORMAT env vars
// and finally to text at Info.
func InitWith(level, format string) {
	sink := os.Getenv("ROOMSYNC_LOG_SINK")
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("ROOMSYNC_LOG_LEVEL")))
	}
	var lv slog.Level
	switch lvl {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}

	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		f = strings.ToLower(strings.TrimSpace(os.Getenv("ROOMSYNC_LOG_FORMAT")))
	}

	out := os.Stdout
	if strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		if fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640); err == nil {
			out = fh
		} else {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		}
	}

	opts := &slog.HandlerOptions{Level: lv}
	if f == "json" {
		Log = slog.New(slog.NewJSONHandler(out, opts))
		return
	}
	Log = slog.New(slog.NewTextHandler(out, opts))
}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}
