package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogSettings selects the log level (debug, info, warn, error) and format
// (json or text).
type LogSettings interface {
	LogLevelName() string
	LogFormatName() string
}

// NewLogger builds the process logger writing to stdout.
func NewLogger(s LogSettings) *slog.Logger {
	return newLogger(os.Stdout, s.LogLevelName(), s.LogFormatName())
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
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
