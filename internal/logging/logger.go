// Package logging owns the process-wide structured logger. The gateway
// logs JSON to stderr; the level comes from configuration.
package logging

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() {
	l, _ := zap.NewProduction()
	global.Store(l)
}

// New builds the gateway logger at the given level ("debug", "info",
// "warn", "error"). An unknown level is a configuration error.
func New(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Stacks come from the recovery middleware, not from log entries.
	cfg.DisableStacktrace = true

	return cfg.Build(zap.AddCallerSkip(1))
}

// SetGlobal installs the process logger. Called once at startup.
func SetGlobal(l *zap.Logger) { global.Store(l) }

// Global returns the current process logger.
func Global() *zap.Logger { return global.Load() }

func Debug(msg string, fields ...zap.Field) { global.Load().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { global.Load().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { global.Load().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { global.Load().Error(msg, fields...) }

// Sync flushes buffered entries at shutdown.
func Sync() { _ = global.Load().Sync() }
