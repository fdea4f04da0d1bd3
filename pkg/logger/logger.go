package logger

import (
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel defines the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// Logger is the project-wide logging structure. It wraps zerolog and
// exposes key-value variants (Debugw, Infow, ...) used across the codebase.
type Logger struct {
	zl       zerolog.Logger
	tracking bool
}

// New creates a new Logger instance writing to stdout
func New(level LogLevel) *Logger {
	return NewWithOutput(level, os.Stdout)
}

// NewWithOutput creates a new Logger instance with a custom output
func NewWithOutput(level LogLevel, output io.Writer) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zl := zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}).
		Level(toZerologLevel(level)).
		With().Timestamp().Logger()

	return &Logger{
		zl:       zl,
		tracking: true,
	}
}

func toZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// getCallerInfo retrieves file and line of the caller
func getCallerInfo(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???"
	}

	// Trim the full path to just the last few path components
	parts := strings.Split(file, "/")
	if len(parts) > 3 {
		file = strings.Join(parts[len(parts)-3:], "/")
	}

	return file + ":" + strconv.Itoa(line)
}

// event attaches caller info and key-value pairs to a zerolog event
func (l *Logger) event(ev *zerolog.Event, keysAndValues ...interface{}) *zerolog.Event {
	if l.tracking {
		// Skip 3 stack frames to get the correct caller
		ev = ev.Str("caller", getCallerInfo(3))
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = "INVALID_KEY"
		}
		ev = ev.Interface(key, keysAndValues[i+1])
	}
	return ev
}

// Debugw logs a debug message with key-value pairs
func (l *Logger) Debugw(msg string, keysAndValues ...interface{}) {
	l.event(l.zl.Debug(), keysAndValues...).Msg(msg)
}

// Infow logs an info message with key-value pairs
func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	l.event(l.zl.Info(), keysAndValues...).Msg(msg)
}

// Warnw logs a warning message with key-value pairs
func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.event(l.zl.Warn(), keysAndValues...).Msg(msg)
}

// Errorw logs an error message with key-value pairs
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.event(l.zl.Error(), keysAndValues...).Msg(msg)
}

// Fatalw logs a fatal message with key-value pairs and exits
func (l *Logger) Fatalw(msg string, keysAndValues ...interface{}) {
	l.event(l.zl.Fatal(), keysAndValues...).Msg(msg)
}
