package infra

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging contract shared across packages.
type Logger = zerolog.Logger

// ParseLevel resolves LOG_LEVEL; empty means debug in development and info
// elsewhere.
func ParseLevel(appEnv, level string) (zerolog.Level, error) {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		if appEnv == "development" {
			return zerolog.DebugLevel, nil
		}
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("LOG_LEVEL %q is not a valid level", level)
	}
	return lvl, nil
}

// NewLogger builds the process logger: human readable console output in
// development, JSON lines to stdout everywhere else.
func NewLogger(appEnv, level string) Logger {
	return newLogger(os.Stdout, appEnv, level)
}

func newLogger(out io.Writer, appEnv, level string) Logger {
	lvl, err := ParseLevel(appEnv, level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if appEnv == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "grafo").
		Str("env", appEnv).
		Logger()
}

// NopLogger discards everything.
func NopLogger() Logger {
	return zerolog.Nop()
}
