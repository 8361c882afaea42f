// Package logger provides leveled structured logging.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)

// Init initializes the default logger with the specified level and format.
// format "text" writes human-readable lines; anything else writes JSON.
func Init(level string, format string) {
	InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level string, format string) {
	var l zerolog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = zerolog.DebugLevel
	case "info":
		l = zerolog.InfoLevel
	case "warn":
		l = zerolog.WarnLevel
	case "error":
		l = zerolog.ErrorLevel
	default:
		l = zerolog.InfoLevel
	}

	out := w
	if strings.ToLower(format) == "text" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	defaultLogger = zerolog.New(out).With().Timestamp().Logger().Level(l)
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Debug().Msgf(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Info().Msgf(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warn().Msgf(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Error().Msgf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	os.Exit(1)
}
