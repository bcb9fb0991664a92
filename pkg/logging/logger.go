// Package logging sets up the gallery's zerolog logger and its component loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// DefaultService is the service field stamped on every gallery log line.
const DefaultService = "artic-gallery"

// Config selects the gallery's log level, format and destination.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to the zerolog console writer, for
	// local runs of gallery-server and the examples.
	Pretty bool

	// Output defaults to os.Stderr so stdout stays free for example output.
	Output io.Writer

	// Service is logged as "service" (default: DefaultService).
	Service string
}

// DefaultConfig is JSON at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Output:  os.Stderr,
		Service: DefaultService,
	}
}

// Setup installs the gallery logger as zerolog's global logger and returns
// it. Component loggers from NewLogger and NewSessionLogger derive from it,
// so call Setup before building sessions.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.DurationFieldUnit = time.Millisecond

	var w io.Writer = os.Stderr
	if cfg.Output != nil {
		w = cfg.Output
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	service := cfg.Service
	if service == "" {
		service = DefaultService
	}

	log.Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
	return log.Logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
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

// NewSessionLogger creates a component logger tagged with a gallery session id.
func NewSessionLogger(component, sessionID string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("session_id", sessionID).
		Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, cost)
//   - Page requests (page, count, offset)
//   - Dispatch loop lifecycle
//
// Info: Normal operation events
//   - Pages applied to the gallery
//   - Session start/end
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Failed page or image fetches (state left unchanged)
//   - Rate limit throttling
//   - Retry attempts when enabled
//
// Error: Error conditions requiring attention
//   - Critical rate limit blocks
//   - Recovered panics on the dispatch loop
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package
//   - session_id: gallery session
//   - url: image or page URL
//   - key: normalised cache key
//   - page, count, offset: pagination request
//   - cost, items: cache accounting
//   - duration: request duration
//   - error_class: error classification (client, server, rate_limit, network, decode)
