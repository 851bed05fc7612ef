package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
)

// Logger implements common.LoggerInterface and common.LoggerInterfaceHexdump
// on top of logrus.
type Logger struct {
	entry *logrus.Entry
	level common.LogLevel
}

// Option is a function that configures a Logger
type Option func(*Logger)

// WithLevel sets the log level
func WithLevel(level common.LogLevel) Option {
	return func(l *Logger) {
		l.SetLevel(level)
	}
}

// WithWriter sets the writer for the logger
func WithWriter(writer io.Writer) Option {
	return func(l *Logger) {
		l.entry.Logger.SetOutput(writer)
	}
}

// WithFields adds fields to the logger
func WithFields(fields map[string]interface{}) Option {
	return func(l *Logger) {
		l.entry = l.entry.WithFields(logrus.Fields(fields))
	}
}

// NewLogger creates a logger writing to stderr at info level.
func NewLogger(options ...Option) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	l := &Logger{entry: logrus.NewEntry(base)}
	l.SetLevel(common.LevelInfo)
	for _, option := range options {
		option(l)
	}
	return l
}

func toLogrusLevel(level common.LogLevel) logrus.Level {
	switch level {
	case common.LevelTrace:
		return logrus.TraceLevel
	case common.LevelDebug:
		return logrus.DebugLevel
	case common.LevelInfo:
		return logrus.InfoLevel
	case common.LevelWarn:
		return logrus.WarnLevel
	case common.LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.PanicLevel
	}
}

// Trace logs a trace message.
func (l *Logger) Trace(ctx context.Context, format string, args ...interface{}) {
	l.entry.Tracef(format, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(ctx context.Context, format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Info logs an info message.
func (l *Logger) Info(ctx context.Context, format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(ctx context.Context, format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(ctx context.Context, format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// WithFields returns a new logger with the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) common.LoggerInterface {
	return &Logger{
		entry: l.entry.WithFields(logrus.Fields(fields)),
		level: l.level,
	}
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() common.LogLevel {
	return l.level
}

// SetLevel sets the log level.
func (l *Logger) SetLevel(level common.LogLevel) {
	l.level = level
	l.entry.Logger.SetLevel(toLogrusLevel(level))
}

// Hexdump logs a hexdump of raw ADU bytes at trace level.
// Format: offset   00 01 02 03 04 05 06 07 | 08 09 0a 0b 0c 0d 0e 0f
func (l *Logger) Hexdump(ctx context.Context, data []byte) {
	if l.level > common.LevelTrace {
		return
	}

	dump := "offset   00 01 02 03 04 05 06 07 | 08 09 0a 0b 0c 0d 0e 0f\n"
	for i := 0; i < len(data); i += 16 {
		dump += fmt.Sprintf("%08x", i)
		for j := 0; j < 16; j++ {
			if j == 8 {
				dump += " |"
			}
			dump += " "
			if i+j < len(data) {
				dump += fmt.Sprintf("%02x", data[i+j])
			} else {
				dump += "  "
			}
		}
		dump += "\n"
	}
	l.entry.Trace(dump)
}

// ParseLevel maps a config string onto a log level, defaulting to info.
func ParseLevel(s string) common.LogLevel {
	switch s {
	case "trace":
		return common.LevelTrace
	case "debug":
		return common.LevelDebug
	case "warn":
		return common.LevelWarn
	case "error":
		return common.LevelError
	case "none":
		return common.LevelNone
	default:
		return common.LevelInfo
	}
}
