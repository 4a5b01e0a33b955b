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

// LogLevel is a textual log level as it appears in config files and flags.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level written.
	Level LogLevel

	// Pretty switches from JSON lines to the zerolog console writer.
	Pretty bool

	// Output defaults to os.Stderr when nil.
	Output io.Writer
}

// DefaultConfig returns info-level JSON logging to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup applies cfg to the global zerolog logger and returns it.
// An unknown level falls back to info.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	if err != nil {
		logger.Warn().Str("level", string(cfg.Level)).Msg("Unknown log level, using info")
	}
	return logger
}

// ParseLevel converts a level name to a zerolog.Level. "warning" is accepted
// as an alias of "warn"; the empty string means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// NewLogger returns a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Level guidelines:
//
// Debug: per-request flow
//   - cache hit/miss and key
//   - each attempt of a fetch
//
// Info: run progress
//   - run start and completion with counts
//   - store writes
//   - server startup/shutdown
//
// Warn: degraded but continuing
//   - retries and per-id failures
//   - rate limit pauses
//   - cache errors (fetch goes to the API)
//
// Error: needs attention
//   - persistence failures
//   - empty population, nothing analyzed
//   - configuration errors
//
// Context fields:
//   - component: package emitting the event
//   - run_id: pipeline run identifier
//   - id: entity id
//   - attempt: 1-based attempt number
//   - status_code: HTTP status code
//   - error_class: not_found, client, server, rate_limit, network, decode, circuit_open, cancelled
//   - duration: elapsed time
//   - fetched / failed: run counts
