// Package obslog provides structured logging for the resolver daemon,
// adapted from the teacher pack's zerolog component logger
// (contract-data-processor/go/logging/logger.go) and generalized from a
// single hard-coded component name to one logger per coordinator
// component (C1-C8).
package obslog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger scoped to one component of the
// coordinator (e.g. "swap_engine", "ingest_a", "scheduler").
type Logger struct {
	logger    zerolog.Logger
	component string
}

// New creates a root logger for the resolver process.
func New(serviceName, serviceVersion string, debug bool) *Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	logger := zerolog.New(output).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", serviceVersion).
		Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	return &Logger{logger: logger}
}

// Component returns a child logger tagged with a coordinator component
// name, replacing the ambient global logger the original relayer used
// (spec.md §9) with an explicitly passed capability.
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		logger:    l.logger.With().Str("component", name).Logger(),
		component: name,
	}
}

func (l *Logger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *Logger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }
func (l *Logger) Fatal() *zerolog.Event { return l.logger.Fatal() }

// With starts a context builder for ad-hoc structured fields.
func (l *Logger) With() zerolog.Context { return l.logger.With() }

// SetLevel sets the global log level by name, matching the teacher's
// CLI/env-driven level selection.
func SetLevel(level string) {
	lv, err := zerolog.ParseLevel(level)
	if err != nil {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return
	}
	zerolog.SetGlobalLevel(lv)
}
