package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	globalMu     sync.RWMutex
	globalLogger *zap.Logger
)

// Global returns the process logger; a no-op logger until Init or SetGlobal runs.
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// SetGlobal replaces the process logger and zap's own globals.
func SetGlobal(logger *zap.Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
	zap.ReplaceGlobals(logger)
}

// Init builds a logger from config and installs it globally.
func Init(config Config, hooks ...Hook) *zap.Logger {
	logger := New(config, hooks...)
	SetGlobal(logger)
	return logger
}
