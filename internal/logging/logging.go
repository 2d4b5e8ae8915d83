// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Config selects the log format and verbosity.
type Config struct {
	// Level is one of debug, info, warn, error (default: info).
	Level string
	// Format is "console" for human-readable output or "json" for
	// structured logs (default: console on a terminal, json otherwise).
	Format string
}

// Setup installs the default slog logger according to cfg and returns it.
func Setup(cfg Config) *slog.Logger {
	return SetupWriter(os.Stderr, cfg)
}

// SetupWriter is Setup with an explicit output, for tests.
func SetupWriter(w io.Writer, cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)

	format := cfg.Format
	if format == "" {
		if isTerminal(w) {
			format = "console"
		} else {
			format = "json"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
