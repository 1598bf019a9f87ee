// Package log provides a process-wide leveled logger backed by zerolog.
// Library packages log through this package so that the daemons can route
// everything to one structured stream.
package log

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anomalies that are not expected to occur during normal use.
	LevelWarning              // Logs anomalies that are expected to occur occasionally during normal use.
	LevelInfo                 // Logs major events.
	LevelDebug                // Logs detailed IO
)

var (
	mu     sync.Mutex
	logger = newLogger(LevelWarning)
)

func newLogger(level Level) zerolog.Logger {
	var z zerolog.Logger
	if strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		z = zerolog.New(writer).With().Timestamp().Logger()
	} else {
		z = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return z.Level(zerologLevel(level))
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case LevelNone:
		return zerolog.Disabled
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarning:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = logger.Level(zerologLevel(level))
}

// ParseLevel maps a configuration string ("debug", "info", ...) to a Level.
// Unrecognized strings map to LevelWarning.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "none":
		return LevelNone
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarning
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	}
	return LevelWarning
}

func get() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func Debug(format string, a ...interface{}) {
	l := get()
	l.Debug().Msgf(format, a...)
}

func Info(format string, a ...interface{}) {
	l := get()
	l.Info().Msgf(format, a...)
}

func Warning(format string, a ...interface{}) {
	l := get()
	l.Warn().Msgf(format, a...)
}

func Error(format string, a ...interface{}) {
	l := get()
	l.Error().Msgf(format, a...)
}
