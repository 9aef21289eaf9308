package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging contract shared by every package in the service.
type Logger = zerolog.Logger

// NewLogger builds the service logger for appEnv. Development gets a console
// writer at debug level; "cli" writes to stderr so command output on stdout
// stays machine readable. A non-empty level overrides the env default.
func NewLogger(appEnv, level string) zerolog.Logger {
	return newLogger(appEnv, level, nil)
}

func newLogger(appEnv, level string, out io.Writer) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if appEnv == "development" {
		lvl = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}

	if out == nil {
		out = os.Stdout
		if appEnv == "cli" {
			out = os.Stderr
		}
		if appEnv == "development" || appEnv == "cli" {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		}
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "listingopt").
		Str("env", appEnv).
		Logger()
}

// OrNop returns l, or a logger that discards everything when l is nil.
func OrNop(l *Logger) *Logger {
	if l != nil {
		return l
	}
	nop := zerolog.New(io.Discard)
	return &nop
}
