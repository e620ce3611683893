// Package logging configures the zerolog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel names a minimum log level.
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

	// Pretty switches from JSON lines to console output.
	Pretty bool

	// Output receives the log lines (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup installs the global logger. An unknown level falls back to info;
// validate user input with ParseLevel first.
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
	return logger
}

// ParseLevel maps a level name to its zerolog level. "warning" is accepted
// for warn; the empty string means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q (debug|info|warn|error)", level)
	}
}

// NewLogger returns the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForRun returns a component logger carrying the run_id field.
func ForRun(component, runID string) zerolog.Logger {
	return log.With().Str("component", component).Str("run_id", runID).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, TTL)
//   - Detail batches and unit expansion
//   - Payload downloads and enrichment calls
//
// Info: Normal operation events
//   - Run start and finish with the summary
//   - Days fetched
//   - Archive written or uploaded
//
// Warn: Warning conditions that don't prevent operation
//   - Rate limit throttling
//   - Retry attempts
//   - Cache errors (fallback to the archive API)
//   - Failed or skipped units
//   - Cancellation requests
//
// Error: Error conditions requiring attention
//   - Enumeration failures that end a run
//   - Archive write or upload failures
//   - Requests failing after retries
//   - Configuration errors
//
// Context Fields:
//   - component: Emitting package (export, pool, store, client, archive, ...)
//   - run_id: Export run identifier
//   - day: Archive day (YYYY-MM-DD)
//   - unit: Export unit key (<job id> or <job id>_<part>)
//   - worker_id: Pool worker index
//   - operation: Outbound request kind (day, details, payload, enrich)
//   - status_code: HTTP status code
//   - duration: Request or run duration
//   - error_class: Error classification (client, server, rate_limit, network)
