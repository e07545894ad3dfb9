package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/quarry/pkg/fault"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger

	// defaultLevel is the threshold for components without an override.
	defaultLevel zerolog.Level
	// componentLevels holds per-component threshold overrides. Set once
	// at Init, read-only afterwards.
	componentLevels map[string]zerolog.Level
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch Level(strings.ToLower(string(l))) {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer

	// ComponentLevels sets a different threshold for individual engine
	// components ("buffer", "lock", "executor", "fulltext", ...) without
	// touching the rest — e.g. buffer at debug while chasing an eviction
	// problem, everything else at info.
	ComponentLevels map[string]Level
}

// Init initializes the global logger. The zerolog global threshold is set
// to the most verbose level any component asks for; per-component
// thresholds are applied on the child loggers WithComponent hands out.
func Init(cfg Config) {
	defaultLevel = cfg.Level.zerolog()
	componentLevels = make(map[string]zerolog.Level, len(cfg.ComponentLevels))

	floor := defaultLevel
	for component, level := range cfg.ComponentLevels {
		z := level.zerolog()
		componentLevels[component] = z
		if z < floor {
			floor = z
		}
	}
	zerolog.SetGlobalLevel(floor)

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
	Logger = Logger.Level(defaultLevel)
}

// WithComponent creates a child logger with component field, filtered at
// the component's configured threshold.
func WithComponent(component string) zerolog.Logger {
	level, ok := componentLevels[component]
	if !ok {
		level = defaultLevel
	}
	return Logger.Level(level).With().Str("component", component).Logger()
}

// WithDatabase creates a child logger with database field
func WithDatabase(name string) zerolog.Logger {
	return Logger.With().Str("database", name).Logger()
}

// WithTransaction creates a child logger with transaction_id field
func WithTransaction(id uint64) zerolog.Logger {
	return Logger.With().Uint64("transaction_id", id).Logger()
}

// WithFile creates a child logger with file field
func WithFile(path string) zerolog.Logger {
	return Logger.With().Str("file", path).Logger()
}

// Fault logs an error at the severity its kind demands: user-level
// faults are client outcomes and log at Info, everything else is an
// engine failure and logs at Error. Worker-pool boundaries route every
// captured error through here.
func Fault(logger zerolog.Logger, err error, msg string) {
	if fault.IsUserLevel(err) {
		logger.Info().Err(err).Msg(msg)
	} else {
		logger.Error().Err(err).Msg(msg)
	}
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
