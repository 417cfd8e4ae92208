// Package corelog defines the logging hook every core component accepts
// and a zap-backed implementation. The core never decides how or where
// to log; it only ever calls through this interface.
package corelog

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging hook supplied by the caller. Core
// packages depend only on this interface, never on zap directly.
type Logger interface {
	Debug(message string, fields map[string]any)
	Info(message string, fields map[string]any)
	Warn(message string, fields map[string]any)
	Error(message string, fields map[string]any)
	With(fields map[string]any) Logger
}

// Nop discards everything. Used as the default when no logger is supplied,
// so core components never need a nil check before calling the hook.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]any) {}
func (nopLogger) Info(string, map[string]any)  {}
func (nopLogger) Warn(string, map[string]any)  {}
func (nopLogger) Error(string, map[string]any) {}
func (nopLogger) With(map[string]any) Logger   { return nopLogger{} }

// zapLogger adapts *zap.Logger to the Logger interface.
type zapLogger struct {
	z *zap.Logger
}

// New builds a zap-backed Logger writing JSON lines at the given level
// ("debug", "info", "warn", "error") to w.
func New(level string, w io.Writer) Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		parseLevel(level),
	)
	return &zapLogger{z: zap.New(core)}
}

// NewStderr builds a zap-backed Logger writing to stderr at the given level.
func NewStderr(level string) Logger {
	return New(level, os.Stderr)
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) Debug(message string, fields map[string]any) {
	l.z.Debug(message, zap.Any("fields", fields))
}

func (l *zapLogger) Info(message string, fields map[string]any) {
	l.z.Info(message, zap.Any("fields", fields))
}

func (l *zapLogger) Warn(message string, fields map[string]any) {
	l.z.Warn(message, zap.Any("fields", fields))
}

func (l *zapLogger) Error(message string, fields map[string]any) {
	l.z.Error(message, zap.Any("fields", fields))
}

func (l *zapLogger) With(fields map[string]any) Logger {
	return &zapLogger{z: l.z.With(zap.Any("context", fields))}
}
