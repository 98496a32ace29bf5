package logger

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of Level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name ("debug", "info", "warn", "error") to a Level
func ParseLevel(text string) (Level, error) {
	switch strings.ToLower(text) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level %q", text)
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

// DefaultLogger writes leveled console output through zap
type DefaultLogger struct {
	level  zap.AtomicLevel
	logger *zap.SugaredLogger
}

// NewDefaultLogger creates a new default logger writing to stdout
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewZapLogger(level, zapcore.Lock(os.Stdout))
}

// NewZapLogger creates a logger writing console-encoded entries to ws
func NewZapLogger(level Level, ws zapcore.WriteSyncer) *DefaultLogger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, atom)

	return &DefaultLogger{
		level:  atom,
		logger: zap.New(core).Sugar(),
	}
}

// Named returns a logger that prefixes entries with name
func (l *DefaultLogger) Named(name string) *DefaultLogger {
	return &DefaultLogger{
		level:  l.level,
		logger: l.logger.Named(name),
	}
}

// Named returns log with name added to its entries, if log supports names
func Named(log Logger, name string) Logger {
	if d, ok := log.(*DefaultLogger); ok {
		return d.Named(name)
	}
	return log
}

// Debug logs debug message
func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Info logs info message
func (l *DefaultLogger) Info(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Warn logs warning message
func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs error message
func (l *DefaultLogger) Error(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// Sync flushes buffered entries
func (l *DefaultLogger) Sync() error {
	return l.logger.Sync()
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that doesn't log
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug does nothing
func (l *NoOpLogger) Debug(format string, args ...interface{}) {}

// Info does nothing
func (l *NoOpLogger) Info(format string, args ...interface{}) {}

// Warn does nothing
func (l *NoOpLogger) Warn(format string, args ...interface{}) {}

// Error does nothing
func (l *NoOpLogger) Error(format string, args ...interface{}) {}

// SetLevel does nothing
func (l *NoOpLogger) SetLevel(level Level) {}

// Global default logger
var defaultLogger Logger = NewDefaultLogger(LevelInfo)

var frameDebug atomic.Bool

// SetDefault sets the default logger
func SetDefault(logger Logger) {
	defaultLogger = logger
}

// GetDefault returns the default logger
func GetDefault() Logger {
	return defaultLogger
}

// SetFrameDebug enables or disables hex dumps of packets
func SetFrameDebug(enable bool) {
	frameDebug.Store(enable)
}

// FrameDebugEnabled reports whether packet hex dumps are enabled
func FrameDebugEnabled() bool {
	return frameDebug.Load()
}

// LogFrame writes a hex dump of data at debug level when frame debugging is on
func LogFrame(log Logger, direction string, data []byte) {
	if !frameDebug.Load() || log == nil {
		return
	}
	log.Debug("%s %d bytes\n%s", direction, len(data), hex.Dump(data))
}
