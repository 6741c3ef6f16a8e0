// Package log provides the process-wide zerolog instance and the
// component-scoped child loggers used across the composer.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var Logger zerolog.Logger

// Level is the accepted set of configured log levels, matching the
// manager.logger.level configuration field.
type Level string

const (
	TraceLevel Level = "trace"
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Format is the accepted set of configured log formats.
type Format string

const (
	JSONFormat   Format = "json"
	PrettyFormat Format = "pretty"
)

// Config holds logging configuration, sourced from manager.logger.*.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

func init() {
	// Safe default so packages can log before Init runs (e.g. during
	// config loading itself, which can fail before logging is configured).
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Init configures the global logger. Called once at startup after
// configuration has been loaded.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case TraceLevel:
		level = zerolog.TraceLevel
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

	if cfg.Format == JSONFormat {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithPlatform scopes a child logger to one configured platform (opencti,
// openaev, openbas).
func WithPlatform(name string) zerolog.Logger {
	return Logger.With().Str("platform", name).Logger()
}

// WithConnector scopes a child logger to one connector id.
func WithConnector(connectorID string) zerolog.Logger {
	return Logger.With().Str("connector_id", connectorID).Logger()
}

// WithOrchestrator scopes a child logger to the selected orchestrator kind.
func WithOrchestrator(kind string) zerolog.Logger {
	return Logger.With().Str("orchestrator", kind).Logger()
}

func Info(msg string) { Logger.Info().Msg(msg) }

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) { Logger.Error().Err(err).Msg(format) }

// Fatal logs at fatal level then exits the process with status 1. Reserved
// for configuration and bootstrap errors.
func Fatal(msg string) { Logger.Fatal().Msg(msg) }
