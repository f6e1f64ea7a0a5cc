package logging

import (
	"go.uber.org/zap/zapcore"
)

// Hook is called for each log entry that is written.
type Hook func(entry zapcore.Entry) error

// hookCore wraps a zapcore.Core and calls hooks on each log entry.
type hookCore struct {
	zapcore.Core
	hooks []Hook
}

func newHookCore(core zapcore.Core, hooks []Hook) zapcore.Core {
	return &hookCore{Core: core, hooks: hooks}
}

// Check implements zapcore.Core.
func (c *hookCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

// Write implements zapcore.Core. Hook errors never block the write.
func (c *hookCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	for _, hook := range c.hooks {
		_ = hook(entry)
	}
	return c.Core.Write(entry, fields)
}

// With implements zapcore.Core.
func (c *hookCore) With(fields []zapcore.Field) zapcore.Core {
	return &hookCore{Core: c.Core.With(fields), hooks: c.hooks}
}

// WrapCore returns a zap option that attaches hooks to an existing logger.
func WrapCore(hooks ...Hook) func(zapcore.Core) zapcore.Core {
	return func(core zapcore.Core) zapcore.Core {
		if len(hooks) == 0 {
			return core
		}
		return newHookCore(core, hooks)
	}
}

// EntryCounter receives one increment per written log entry.
type EntryCounter interface {
	IncrementCounter(name string, value float64, tags map[string]string)
}

// CountingHook counts written entries per level under log_entries_total.
func CountingHook(counter EntryCounter) Hook {
	return func(entry zapcore.Entry) error {
		tags := map[string]string{"level": entry.Level.String()}
		if entry.LoggerName != "" {
			tags["logger"] = entry.LoggerName
		}
		counter.IncrementCounter("log_entries_total", 1, tags)
		return nil
	}
}
