// Package logging configures zerolog for the gateway and hands out
// component-scoped loggers.
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

// Component names used in the "component" field.
const (
	ComponentServer    = "server"
	ComponentToken     = "opensky-token"
	ComponentStates    = "states"
	ComponentCache     = "cache"
	ComponentGate      = "gate"
	ComponentSWR       = "swr"
	ComponentEnrich    = "enrich"
	ComponentBootstrap = "bootstrap"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr when nil.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewLogger creates a logger tagged with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: cache hit/miss per tier, gate decisions, token cache hits,
// refresh-lock contention.
//
// Info: provider failover, token refresh, startup/shutdown, namespace
// rotation.
//
// Warn: tier read/write failures, upstream non-2xx, provider 429 cooldowns,
// stale responses served.
//
// Error: both providers down with nothing cached, configuration errors.
//
// Context Fields:
//   - key: synthetic cache key
//   - tier: kv, row or edge
//   - provider: opensky, adsb.lol or aerodatabox
//   - status: upstream HTTP status
//   - error_class: upstream error classification
//   - kind, id: enrichment entity
//   - reason: gate skip reason
//   - ttl: cache entry TTL
