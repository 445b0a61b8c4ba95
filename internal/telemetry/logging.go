package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/anoner9000/ClawDawg/internal/shared"
)

// NewLogger writes JSON logs to <home>/logs/system.jsonl and, when stderr is
// non-nil, mirrors them there. Stdout is never used: it carries the command
// output that wrappers parse.
func NewLogger(homeDir, level, component string, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	logFilePath := filepath.Join(logDir, "system.jsonl")
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = file
	if stderr != nil {
		w = io.MultiWriter(stderr, file)
	}
	return newLogger(w, level, component), file, nil
}

// NewStderrLogger is used when the log directory cannot be created.
func NewStderrLogger(stderr io.Writer, level, component string) *slog.Logger {
	return newLogger(stderr, level, component)
}

func newLogger(w io.Writer, level, component string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: replaceAttr,
	})
	return slog.New(handler).With("component", component)
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "timestamp"
		return a
	}
	if shared.SensitiveKey(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		v := a.Value.String()
		if redacted := shared.Redact(v); redacted != v {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// ParseLevel maps a config string to a level; unknown values mean info.
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
