// Package log provides structured logging for histd using zerolog.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured once via Init.
var Logger zerolog.Logger

// Level represents a configured log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with the originating
// component (ingest, query, monitor, store, supervisor, ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithHost creates a child logger tagged with the originating host.
func WithHost(host string) zerolog.Logger {
	return Logger.With().Str("host", host).Logger()
}

// WithSession creates a child logger tagged with a TTY session id.
func WithSession(session int) zerolog.Logger {
	return Logger.With().Int("session", session).Logger()
}

// Info logs msg at info level on the global logger.
func Info(msg string) { Logger.Info().Msg(msg) }

// Debug logs msg at debug level on the global logger.
func Debug(msg string) { Logger.Debug().Msg(msg) }

// Warn logs msg at warn level on the global logger.
func Warn(msg string) { Logger.Warn().Msg(msg) }

// Error logs msg at error level on the global logger.
func Error(msg string) { Logger.Error().Msg(msg) }

// Errorf logs an error with msg as context.
func Errorf(msg string, err error) { Logger.Error().Err(err).Msg(msg) }

// Fatal logs msg at fatal level and exits the process.
func Fatal(msg string) { Logger.Fatal().Msg(msg) }
