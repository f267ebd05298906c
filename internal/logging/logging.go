// Package logging provides the zerolog logger shared by the server, the CLI and the
// reconciliation cycle.
//
// LOG_LEVEL selects the minimum level (trace, debug, info, warn, error) and LOG_FORMAT=json
// forces structured output even when stderr is a terminal.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

var defaultLogger = createDefaultLogger()

// Nop discards everything
var Nop = zerolog.Nop()

func createDefaultLogger() zerolog.Logger {
	var w io.Writer = os.Stderr
	if isTerminal() && os.Getenv("LOG_FORMAT") != "json" {
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
			NoColor:    os.Getenv("NO_COLOR") != "",
		}
	}

	level := levelFromEnv()
	zerolog.SetGlobalLevel(level)

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Default returns the process-wide logger
func Default() *zerolog.Logger {
	return &defaultLogger
}

// SetDefault replaces the process-wide logger
func SetDefault(l zerolog.Logger) {
	defaultLogger = l
}

// New creates a logger writing JSON lines to w
func New(w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(zerolog.GlobalLevel()).With().Timestamp().Logger()
}

// WithLogger returns a context carrying l
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or the default logger
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
			return &l
		}
	}
	return Default()
}

func levelFromEnv() zerolog.Level {
	s := os.Getenv("LOG_LEVEL")
	if s == "" {
		if os.Getenv("DEBUG") != "" {
			return zerolog.DebugLevel
		}
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func isTerminal() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
