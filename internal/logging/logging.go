// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the log level and output format
type Options struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string
	// Format is console for humans or json for services.
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// Setup builds a logger from opts, installs it as the global and default
// context logger and returns it.
func Setup(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var logger zerolog.Logger
	switch strings.ToLower(opts.Format) {
	case "", "console":
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	case "json":
		logger = zerolog.New(out).With().Timestamp().Logger()
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", opts.Format)
	}

	log.Logger = logger.Level(level)
	zerolog.DefaultContextLogger = &log.Logger
	return log.Logger, nil
}
