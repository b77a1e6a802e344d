// Package logging configures the zerolog logger shared by the viewer packages.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// Options controls where and how log lines are written
type Options struct {
	Level  string
	JSON   bool
	Output io.Writer
}

// Setup replaces the process-wide base logger.
func Setup(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(out).With().Timestamp().Logger().Level(lvl)

	mu.Lock()
	base = logger
	mu.Unlock()
	return logger
}

// Component returns the base logger tagged with a component name
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", name).Logger()
}

// Nop returns a logger that discards everything, for tests and library users
// that don't want diagnostics.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
