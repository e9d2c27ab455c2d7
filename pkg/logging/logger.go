// Package logging provides structured logging configuration and
// utilities.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level  string
	Pretty bool
	Writer io.Writer
}

// NewLogger builds a zerolog logger from the configuration. Unknown
// levels fall back to info.
func NewLogger(cfg Config) zerolog.Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	var output io.Writer = writer
	if cfg.Pretty {
		console := zerolog.NewConsoleWriter()
		console.Out = writer
		console.TimeFormat = time.RFC3339
		output = console
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// SetupLogger configures the global zerolog logger used by components
// that are not handed an explicit one.
func SetupLogger(cfg Config) {
	logger := NewLogger(cfg)
	zerolog.SetGlobalLevel(logger.GetLevel())
	log.Logger = logger
}
