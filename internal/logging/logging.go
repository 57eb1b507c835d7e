// Package logging wraps zerolog into the package-level logger shape
// the rest of this module uses.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init initializes the default logger writing JSON lines to stdout.
// Safe to call more than once; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		level := zerolog.InfoLevel
		if debug {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		defaultLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		defaultLogger.Info().Msg("logger initialized")
	})
}

// Get returns the initialized default logger, initializing at info
// level if Init was never called.
func Get() zerolog.Logger {
	Init(false)
	return defaultLogger
}

// For returns a sub-logger tagged with the given component name, used
// by each pipeline stage and the orchestrator so every log line
// carries a structured "component" field.
func For(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}

// Info logs an informational message using the default logger.
func Info(msg string, fields map[string]any) {
	event := Get().Info()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, fields map[string]any) {
	event := Get().Warn()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, fields map[string]any) {
	event := Get().Error()
	if err != nil {
		event = event.Err(err)
	}
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
