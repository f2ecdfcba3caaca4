package utils

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

var (
	defaultLevel   = Warning
	defaultLevelMu sync.RWMutex
)

// SetDefaultLogLevel changes the level used by loggers created without an explicit level.
func SetDefaultLogLevel(level LogLevel) {
	defaultLevelMu.Lock()
	defer defaultLevelMu.Unlock()
	defaultLevel = level
}

func getDefaultLogLevel() LogLevel {
	defaultLevelMu.RLock()
	defer defaultLevelMu.RUnlock()
	return defaultLevel
}

// ParseLogLevel maps a textual level ("debug", "info", "warn", "error") to a LogLevel.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical", "fatal":
		return Critical
	default:
		return Warning
	}
}

// Logger provides structured logging with a component prefix
type Logger struct {
	prefix string
	level  *slog.LevelVar
	logger *slog.Logger
}

// NewLogger creates a new logger with a given prefix writing to stdout
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	return NewLoggerWithWriter(os.Stdout, prefix, logLevel...)
}

// NewLoggerWithWriter creates a logger that writes to w
func NewLoggerWithWriter(w io.Writer, prefix string, logLevel ...LogLevel) *Logger {
	levelValue := getDefaultLogLevel()
	if len(logLevel) > 0 {
		levelValue = logLevel[0]
	}

	lv := new(slog.LevelVar)
	lv.Set(toSlogLevel(levelValue))

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	return &Logger{
		prefix: prefix,
		level:  lv,
		logger: slog.New(handler).With("component", prefix),
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.level.Set(toSlogLevel(logLevel))
}

// With returns a logger that always includes the given key-value pairs
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{
		prefix: l.prefix,
		level:  l.level,
		logger: l.logger.With(keyvals...),
	}
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...any) {
	l.logger.Log(context.Background(), slog.LevelInfo, msg, keyvals...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...any) {
	l.logger.Log(context.Background(), slog.LevelError, msg, keyvals...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...any) {
	l.logger.Log(context.Background(), slog.LevelWarn, msg, keyvals...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...any) {
	l.logger.Log(context.Background(), slog.LevelDebug, msg, keyvals...)
}

func toSlogLevel(level LogLevel) slog.Level {
	switch {
	case level >= Critical:
		return slog.LevelError + 4
	case level >= Error:
		return slog.LevelError
	case level >= Warning:
		return slog.LevelWarn
	case level >= Info:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
