// Package logging configures the coordinator's structured logger.
//
// Every subsystem gets its own component-scoped logger via With(), the same
// pattern the wider Go ecosystem uses around zerolog: one process-wide base
// logger, child loggers tagged with a "component" field.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init configures the global zerolog logger and returns the base logger.
// When pretty is true, logs are written as human-readable console text
// (useful for local development); otherwise they are newline-delimited JSON.
func Init(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out zerolog.ConsoleWriter
	var logger zerolog.Logger
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	log := logger
	zerolog.DefaultContextLogger = &log
	return log
}

// Component returns a child logger tagged with the given component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
