// Package logger builds the service's zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for the service logger.
type Config struct {
	Level       string    // optional log level ("debug", "info", etc.)
	Environment string    // "development" switches to the console writer
	ServiceName string    // attached to every entry
	Version     string    // attached to every entry
	Output      io.Writer // optional writer (defaults to os.Stdout)
}

// Logger wraps zerolog so callers can use the fluent API directly
// (log.Info().Str(...).Msg(...)) and pass &log.Logger where a plain
// *zerolog.Logger is expected.
type Logger struct {
	zerolog.Logger
}

// New creates a logger from the given configuration.
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
			level = parsed
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}
	if cfg.Environment == "development" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}
	}

	base := zerolog.New(writer).Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Logger()

	return &Logger{Logger: base}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithComponent returns a child logger annotated with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With().Str("component", component).Logger()}
}
