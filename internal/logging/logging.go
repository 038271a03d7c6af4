package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LevelTrace logs every categorized item of a scan
	LevelTrace LogLevel = iota
	// LevelDebug is the debug log level
	LevelDebug
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

var (
	currentLevel LogLevel
	levelOnce    sync.Once
	levelMu      sync.RWMutex
)

// ParseLevel converts a level name to a LogLevel. Unknown names map to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// initLevel initializes the log level from environment variables
func initLevel() {
	levelOnce.Do(func() {
		if debug := os.Getenv("DEBUG"); debug != "" {
			switch strings.ToLower(debug) {
			case "1", "true", "yes", "on":
				currentLevel = LevelDebug
				return
			}
		}
		currentLevel = ParseLevel(os.Getenv("LOG_LEVEL"))
	})
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	initLevel()
	levelMu.RLock()
	defer levelMu.RUnlock()
	return currentLevel
}

// SetLevel overrides the level read from the environment.
func SetLevel(level LogLevel) {
	initLevel()
	levelMu.Lock()
	currentLevel = level
	levelMu.Unlock()
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

// IsTraceEnabled returns true if trace logging is enabled
func IsTraceEnabled() bool {
	return GetLevel() <= LevelTrace
}

// tags prefixes each line with its level.
var tags = [...]string{
	LevelTrace: "[TRACE] ",
	LevelDebug: "[DEBUG] ",
	LevelInfo:  "[INFO] ",
	LevelWarn:  "[WARN] ",
	LevelError: "[ERROR] ",
}

func logAt(level LogLevel, format string, args []interface{}) {
	if GetLevel() <= level {
		log.Printf(tags[level]+format, args...)
	}
}

// Trace logs every item of a reconciliation pass (LOG_LEVEL=trace).
func Trace(format string, args ...interface{}) { logAt(LevelTrace, format, args) }

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...interface{}) { logAt(LevelDebug, format, args) }

// Info logs an info message
func Info(format string, args ...interface{}) { logAt(LevelInfo, format, args) }

// Warn logs a warning message
func Warn(format string, args ...interface{}) { logAt(LevelWarn, format, args) }

// Error logs an error message
func Error(format string, args ...interface{}) { logAt(LevelError, format, args) }

// Fatal logs an error message and exits
func Fatal(format string, args ...interface{}) {
	log.Fatalf("[FATAL] "+format, args...)
}

// Printf is a pass-through to log.Printf for messages that should always print
func Printf(format string, args ...interface{}) {
	log.Printf(format, args...)
}

// String returns the name accepted by ParseLevel.
func (l LogLevel) String() string {
	if l < LevelTrace || l > LevelError {
		return fmt.Sprintf("unknown(%d)", int(l))
	}
	return strings.ToLower(strings.Trim(tags[l], "[] "))
}
