package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	FieldService   = "service"
	FieldUserID    = "user_id"
	FieldEventType = "event_type"
	FieldRunID     = "run_id"
	FieldStep      = "step"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

// New builds a logger writing to stdout. Format "text" selects the
// human-readable handler, anything else JSON.
func New(service, level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, service, level, format)
}

func NewWithWriter(w io.Writer, service, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With(FieldService, service)
}

// Init builds the logger and installs it as the process default.
func Init(service, level, format string) *slog.Logger {
	logger := New(service, level, format)
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Err is a shorthand attribute for an error value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
