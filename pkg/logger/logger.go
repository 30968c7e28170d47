// Package logger provides component-tagged structured logging for linecord.
//
// Every line carries a "component" field ("line", "discord", "relay", ...)
// so that output from the two platform sessions can be told apart. Fields
// are passed as a plain map to keep call sites free of logger types.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "debug",
	INFO:  "info",
	WARN:  "warn",
	ERROR: "error",
	FATAL: "fatal",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
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

var (
	mu           sync.RWMutex
	currentLevel = INFO
	base         = newLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
)

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger().Level(currentLevel.zerolog())
}

// ParseLevel maps a case-insensitive level name to a LogLevel.
func ParseLevel(name string) (LogLevel, bool) {
	for level, n := range levelNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return level, true
		}
	}
	return INFO, false
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
	base = base.Level(level.zerolog())
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects log output. Lines written to w are JSON objects, one
// per line; tests use this to assert on fields.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(w)
}

func event(level LogLevel, component string, fields map[string]any) *zerolog.Event {
	mu.RLock()
	l := base
	mu.RUnlock()

	var e *zerolog.Event
	switch level {
	case DEBUG:
		e = l.Debug()
	case WARN:
		e = l.Warn()
	case ERROR:
		e = l.Error()
	case FATAL:
		// zerolog's Fatal exits the process; keep exiting in our own hands.
		e = l.WithLevel(zerolog.FatalLevel)
	default:
		e = l.Info()
	}
	if e == nil {
		return nil
	}
	if component != "" {
		e = e.Str("component", component)
	}
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	return e
}

func logMessage(level LogLevel, component, message string, fields map[string]any) {
	if e := event(level, component, fields); e != nil {
		e.Msg(message)
	}
	if level == FATAL {
		os.Exit(1)
	}
}

func Debug(message string) { logMessage(DEBUG, "", message, nil) }

func DebugC(component, message string) { logMessage(DEBUG, component, message, nil) }

func DebugCF(component, message string, fields map[string]any) {
	logMessage(DEBUG, component, message, fields)
}

func Info(message string) { logMessage(INFO, "", message, nil) }

func InfoC(component, message string) { logMessage(INFO, component, message, nil) }

func InfoCF(component, message string, fields map[string]any) {
	logMessage(INFO, component, message, fields)
}

func Warn(message string) { logMessage(WARN, "", message, nil) }

func WarnC(component, message string) { logMessage(WARN, component, message, nil) }

func WarnCF(component, message string, fields map[string]any) {
	logMessage(WARN, component, message, fields)
}

func Error(message string) { logMessage(ERROR, "", message, nil) }

func ErrorC(component, message string) { logMessage(ERROR, component, message, nil) }

func ErrorCF(component, message string, fields map[string]any) {
	logMessage(ERROR, component, message, fields)
}

func FatalCF(component, message string, fields map[string]any) {
	logMessage(FATAL, component, message, fields)
}
