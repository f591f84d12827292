// Package logging provides zerolog-based structured logging for the
// recognition engine and its orchestration tools.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info.
	Level string `koanf:"level"`

	// Format is the output format: json or console.
	// Default: console.
	Format string `koanf:"format"`
}

// New builds a logger writing to w. A nil or unrecognized level falls back
// to info rather than failing; logging misconfiguration should never stop
// a recognition run.
func New(cfg Config, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if strings.ToLower(cfg.Format) != "json" {
		w = zerolog.ConsoleWriter{Out: w}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Nop returns a disabled logger for callers that do not want output,
// such as tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
