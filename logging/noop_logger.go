package logging

import (
	"context"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
)

// NoopLogger discards everything. It is the default for streams and servers
// so the protocol paths stay silent unless a logger is injected.
type NoopLogger struct{}

// NewNoopLogger creates a new no-op logger.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// Trace does nothing.
func (l *NoopLogger) Trace(ctx context.Context, format string, args ...interface{}) {}

// Debug does nothing.
func (l *NoopLogger) Debug(ctx context.Context, format string, args ...interface{}) {}

// Info does nothing.
func (l *NoopLogger) Info(ctx context.Context, format string, args ...interface{}) {}

// Warn does nothing.
func (l *NoopLogger) Warn(ctx context.Context, format string, args ...interface{}) {}

// Error does nothing.
func (l *NoopLogger) Error(ctx context.Context, format string, args ...interface{}) {}

// WithFields returns the same no-op logger.
func (l *NoopLogger) WithFields(fields map[string]interface{}) common.LoggerInterface {
	return l
}

// GetLevel always reports logging as disabled.
func (l *NoopLogger) GetLevel() common.LogLevel {
	return common.LevelNone
}

// SetLevel does nothing.
func (l *NoopLogger) SetLevel(level common.LogLevel) {}
