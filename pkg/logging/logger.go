// Package logging configures zerolog for the warmer and carries the field
// names shared by every component.
//
// Levels:
//
//	debug  cache hits and misses, per-page progress, quota checks that pass
//	info   cycle summaries, finished aggregations, registry rebuilds, startup
//	warn   rate limiting, retries, backoff installation, cache write failures
//	error  database or Redis failures, malformed jobs, bad configuration
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Field names used across packages.
const (
	FieldComponent  = "component"
	FieldCycleID    = "cycle_id"
	FieldJobKey     = "job_key"
	FieldJobType    = "job_type"
	FieldAttempts   = "attempts"
	FieldMethod     = "method"
	FieldPhotoID    = "photo_id"
	FieldCollection = "collection"
	FieldPage       = "page"
	FieldErrorClass = "error_class"
)

// LogLevel is a level name as it appears in configuration.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON output at info level on stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Setup installs the global level and log.Logger and returns the root
// logger. Timestamps carry milliseconds so cycle logs order correctly.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if cfg.Output != nil {
		out = cfg.Output
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// ParseLevel maps a level name to zerolog. "warning" is accepted; anything
// unknown or empty is info.
func ParseLevel(level string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = string(LevelWarn)
	}
	switch LogLevel(name) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		l, _ := zerolog.ParseLevel(name)
		return l
	}
	return zerolog.InfoLevel
}

// NewLogger derives a component logger from the global one.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Logger()
}

// ForCycle tags l with a warmer cycle id.
func ForCycle(l zerolog.Logger, id string) zerolog.Logger {
	return l.With().Str(FieldCycleID, id).Logger()
}

// ForJob tags l with the queue row being processed.
func ForJob(l zerolog.Logger, key, jobType string, attempts int) zerolog.Logger {
	return l.With().
		Str(FieldJobKey, key).
		Str(FieldJobType, jobType).
		Int(FieldAttempts, attempts).
		Logger()
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
