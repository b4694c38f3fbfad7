package workflow

import (
	"context"
	"fmt"
	"log/slog"
)

// Logger provides a simple interface for workflow logging
type Logger interface {
	// Debug logs a message at debug level
	Debug(format string, args ...interface{})

	// Info logs a message at info level
	Info(format string, args ...interface{})

	// Warn logs a message at warning level
	Warn(format string, args ...interface{})

	// Error logs a message at error level
	Error(format string, args ...interface{})
}

// DefaultLogger is a no-op logger implementation
type DefaultLogger struct{}

// Debug implements Logger.Debug
func (l *DefaultLogger) Debug(format string, args ...interface{}) {}

// Info implements Logger.Info
func (l *DefaultLogger) Info(format string, args ...interface{}) {}

// Warn implements Logger.Warn
func (l *DefaultLogger) Warn(format string, args ...interface{}) {}

// Error implements Logger.Error
func (l *DefaultLogger) Error(format string, args ...interface{}) {}

// NewDefaultLogger creates a new default no-op logger
func NewDefaultLogger() Logger {
	return &DefaultLogger{}
}

// SlogLogger forwards formatted messages to a slog.Logger
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

// With returns a logger carrying the given attributes on every record
func (s *SlogLogger) With(args ...any) *SlogLogger {
	return &SlogLogger{l: s.l.With(args...)}
}

func (s *SlogLogger) log(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	s.l.Log(ctx, level, fmt.Sprintf(format, args...))
}

// Debug implements Logger.Debug
func (s *SlogLogger) Debug(format string, args ...interface{}) {
	s.log(slog.LevelDebug, format, args...)
}

// Info implements Logger.Info
func (s *SlogLogger) Info(format string, args ...interface{}) { s.log(slog.LevelInfo, format, args...) }

// Warn implements Logger.Warn
func (s *SlogLogger) Warn(format string, args ...interface{}) { s.log(slog.LevelWarn, format, args...) }

// Error implements Logger.Error
func (s *SlogLogger) Error(format string, args ...interface{}) {
	s.log(slog.LevelError, format, args...)
}
