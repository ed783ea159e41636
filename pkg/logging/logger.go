// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// SeverityCritical tags events that need operator attention even though the
// process keeps going (rate limited, upstream timeouts, exhausted budgets).
const SeverityCritical = "critical"

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// RunID is attached to every event when set.
	RunID string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.RunID != "" {
		ctx = ctx.Str("run_id", cfg.RunID)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Critical starts an error-level event tagged severity=critical.
func Critical(l *zerolog.Logger) *zerolog.Event {
	return l.Error().Str("severity", SeverityCritical)
}

// Log Level Guidelines:
//
// Debug: request flow (endpoint, correlation id), dumps written, throttle waits,
// checkpoint flushes after each unit of progress.
//
// Info: task start/finish, resume from checkpoint, pages collected, success
// after retry.
//
// Warn: remote logical errors (item skipped), 403 on a single resource,
// checkpoint write failures during shutdown.
//
// Error: fatal request failures, task failures. Critical (error + severity)
// for 429/524/DNS backoff and retry exhaustion.
//
// Context Fields:
//   - task: checkpoint task name
//   - endpoint / method: RPC method or request path
//   - correlation_id: JSON-RPC id
//   - page, item: pagination cursor and work item
//   - attempt, error_class, status
