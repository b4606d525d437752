// Package zaplog adapts zap to sagastore.Logger.
package zaplog

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/velmie/sagastore"
)

const callerSkipFrames = 1

// Logger implements sagastore.Logger on a sugared zap logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ sagastore.Logger = (*Logger)(nil)

// New builds a JSON logger. An empty level defaults to debug in development and info otherwise.
// The returned AtomicLevel changes the level at runtime.
func New(level string, development bool) (*Logger, zap.AtomicLevel, error) {
	atomic, err := resolveLevel(level, development)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Encoding = "json"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Level = atomic
	cfg.DisableStacktrace = true

	built, err := cfg.Build(zap.AddCallerSkip(callerSkipFrames))
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("zaplog: build logger failed: %w", err)
	}

	return FromZap(built), atomic, nil
}

// FromZap wraps an existing zap logger. A nil logger yields a no-op logger.
func FromZap(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}

	return &Logger{sugar: l.Sugar()}
}

func resolveLevel(level string, development bool) (zap.AtomicLevel, error) {
	if strings.TrimSpace(level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(level); err != nil {
			return zap.AtomicLevel{}, fmt.Errorf("zaplog: invalid level %q: %w", level, err)
		}

		return zap.NewAtomicLevelAt(parsed), nil
	}
	if development {
		return zap.NewAtomicLevelAt(zapcore.DebugLevel), nil
	}

	return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
}

// Debug implements sagastore.Logger.
func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }

// Info implements sagastore.Logger.
func (l *Logger) Info(msg string, args ...any) { l.sugar.Infow(msg, args...) }

// Warn implements sagastore.Logger.
func (l *Logger) Warn(msg string, args ...any) { l.sugar.Warnw(msg, args...) }

// Error implements sagastore.Logger.
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
