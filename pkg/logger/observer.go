package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// NewObserverLogger creates a logger that records entries for assertions in
// tests, returning both the logger and the recorded log sink.
func NewObserverLogger(level string) (Logger, *observer.ObservedLogs) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	core, logs := observer.New(lvl)
	return &ZapLogger{zap.New(core)}, logs
}
