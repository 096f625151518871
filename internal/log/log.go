// Package log exposes a small keyed-value leveled logging API for the rest
// of the application, backed by zap. Call sites pass alternating key/value
// pairs, e.g. log.Info("fetch done", "source", name, "count", n).
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = newLogger(zapcore.InfoLevel)
)

func newLogger(level zapcore.Level) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// SetDebug switches the global logger to debug level when on is true, info
// level otherwise.
func SetDebug(on bool) {
	level := zapcore.InfoLevel
	if on {
		level = zapcore.DebugLevel
	}
	mu.Lock()
	logger = newLogger(level)
	mu.Unlock()
}

// SetNop silences all logging. Used by tests.
func SetNop() {
	mu.Lock()
	logger = zap.NewNop().Sugar()
	mu.Unlock()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, kv ...any) {
	get().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	get().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	get().Warnw(msg, kv...)
}

// Error logs msg with err prepended to the key/value pairs under the "err"
// key, matching the call shape used throughout the codebase.
func Error(msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	get().Errorw(msg, extended...)
}

// Sync flushes buffered log entries. Best effort; safe to ignore the error
// on stderr sinks.
func Sync() {
	_ = get().Sync()
}
