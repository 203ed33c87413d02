// Package xlog configures the process-wide structured logger used by every
// other package: a zerolog.Logger writing levelled, field-based output.
package xlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options controls the logger New builds.
type Options struct {
	Level     string // "debug", "info", "warn", "error"; defaults to "info"
	Pretty    bool   // console-writer formatting instead of JSON lines
	Output    io.Writer
	Component string // bound as a "component" field on every record
}

// New builds a zerolog.Logger from Options, defaulting Output to os.Stderr
// and Level to info when unset.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).With().Timestamp().Logger().Level(level)
	if opts.Component != "" {
		logger = logger.With().Str("component", opts.Component).Logger()
	}
	return logger
}
