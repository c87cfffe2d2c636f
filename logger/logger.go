// Package logger provides a thread-safe, levelled logger backed by zap.
//
// The printf-style surface (Info, Infof, Error, ...) is what the rest of the
// gateway calls; structured fields are available through With. Output goes to
// stderr in console or JSON form and, optionally, to a rotating JSON file.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/firasghr/GoShroud/config"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO, WARN and ERROR messages.
	LevelInfo
	// LevelWarn emits WARN and ERROR messages.
	LevelWarn
	// LevelError emits only ERROR messages.
	LevelError
)

func (l Level) zap() zapcore.Level {
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

// ParseLevel maps a config string to a Level; unknown strings mean LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Hook receives a copy of every emitted entry. It must not block.
type Hook func(level, message string)

// Logger is a structured, levelled logger.
//
// Children created by With share the parent's atomic level, so SetLevel on
// any of them changes verbosity for the whole tree.
type Logger struct {
	z     *zap.Logger
	s     *zap.SugaredLogger
	level zap.AtomicLevel
}

// New creates a Logger from cfg. hooks are invoked for every entry that
// passes the level filter.
func New(cfg config.LogConfig, hooks ...Hook) (*Logger, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level).zap())

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var consoleEnc zapcore.Encoder
	switch cfg.Format {
	case "", "console":
		consoleEnc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}
	cores := []zapcore.Core{zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level)}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if len(hooks) > 0 {
		opts = append(opts, zap.Hooks(func(e zapcore.Entry) error {
			for _, h := range hooks {
				h(e.Level.CapitalString(), e.Message)
			}
			return nil
		}))
	}
	return wrap(zap.New(zapcore.NewTee(cores...), opts...), level), nil
}

// NewNop returns a Logger that discards everything; handy in tests.
func NewNop() *Logger {
	return wrap(zap.NewNop(), zap.NewAtomicLevel())
}

// FromZap adapts an existing zap logger, e.g. one built by zaptest.
func FromZap(z *zap.Logger) *Logger {
	return wrap(z.WithOptions(zap.AddCallerSkip(1)), zap.NewAtomicLevelAt(zapcore.DebugLevel))
}

func wrap(z *zap.Logger, level zap.AtomicLevel) *Logger {
	return &Logger{z: z, s: z.Sugar(), level: level}
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return wrap(l.z.With(fields...), l.level)
}

// Named returns a child logger with name appended to the logger name.
func (l *Logger) Named(name string) *Logger {
	return wrap(l.z.Named(name), l.level)
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger { return l.z.WithOptions(zap.AddCallerSkip(-1)) }

// SetLevel changes the minimum log level at runtime. Safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zap())
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.z.Sync() }

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, fields ...zap.Field) { l.z.Info(msg, fields...) }

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) { l.s.Infof(format, args...) }

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string, fields ...zap.Field) { l.z.Warn(msg, fields...) }

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.s.Warnf(format, args...) }

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
