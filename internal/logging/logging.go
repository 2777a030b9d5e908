// Package logging sets up the zerolog logger shared across every
// component, replacing the teacher's hand-rolled cmd/auctiond/logger.go
// (level enum + fan-out to console/file/audit writers) with the equivalent
// shape built on github.com/rs/zerolog: the same level set, the same
// "audit" concept as a tagged sub-logger, and an optional file sink.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the teacher's LogLevel enum (DEBUG/INFO/WARN/ERROR/FATAL).
type Level = zerolog.Level

// Options configures New, mirroring cmd/auctiond's NewLogger(level, logFile,
// auditFile) signature.
type Options struct {
	Level      string // "debug" | "info" | "warn" | "error" | "fatal"
	LogFile    string // optional path; empty means console-only
	PrettyConsole bool
}

// New builds a zerolog.Logger at the requested level. When LogFile is set,
// log lines are written as JSON to that file in addition to the console
// writer, mirroring the teacher's dual console+file sink.
func New(opts Options) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if opts.PrettyConsole {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, os.Stderr)
	}
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, err
		}
		writers = append(writers, f)
	}

	logger := zerolog.New(io.MultiWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger, nil
}

// Audit returns a sub-logger tagged the way the teacher's Audit(event,
// details) calls were: a structured event distinguishable from ordinary
// operational log lines.
func Audit(base zerolog.Logger) zerolog.Logger {
	return base.With().Bool("audit", true).Logger()
}
