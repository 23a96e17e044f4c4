// Package logger provides the zerolog root logger used by every component of
// the classifier, plus named child loggers per stage.
package logger

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger
type Options struct {
	// Level is one of trace, debug, info, warn, error. Unknown values mean info.
	Level string

	// Format is "console" (human readable) or "json".
	Format string

	// Writer defaults to os.Stderr so stdout stays free for process signaling lines.
	Writer io.Writer
}

// Logger is the project-wide logging type
type Logger = zerolog.Logger

var root atomic.Pointer[zerolog.Logger]

// Init builds the root logger from opt and installs it. It may be called again
// (e.g. once flags are parsed) and returns the new root
func Init(opt Options) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if strings.ToLower(opt.Format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	log := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp().Logger()
	root.Store(&log)
	return &log
}

// Get returns the root logger, initializing it with defaults on first use
func Get() *Logger {
	if l := root.Load(); l != nil {
		return l
	}
	return Init(Options{Level: "info", Format: "console"})
}

// Named returns a child logger with a component field
func Named(component string) *Logger {
	if component == "" {
		return Get()
	}
	l := Get().With().Str("component", component).Logger()
	return &l
}

// Nop returns a disabled logger, handy for tests
func Nop() *Logger {
	l := zerolog.Nop()
	return &l
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
