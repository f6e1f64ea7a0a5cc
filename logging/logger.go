package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger from the given Config. Entries at or above the
// configured level go to one rotated file per level (when Director is set)
// and to stdout (when LogInTerminal is set). Hooks see every written entry.
func New(config Config, hooks ...Hook) *zap.Logger {
	minLevel := config.ZapLevel()
	enc := config.encoder()

	var cores []zapcore.Core
	if config.Director != "" {
		for level := minLevel; level <= zapcore.FatalLevel; level++ {
			cores = append(cores, zapcore.NewCore(enc, registerWriter(newLevelWriter(config, level.String())), exactLevel(level)))
		}
	}
	if config.LogInTerminal {
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), minLevel))
	}
	if len(cores) == 0 {
		return zap.NewNop()
	}

	var core zapcore.Core = zapcore.NewTee(cores...)
	if len(hooks) > 0 {
		core = newHookCore(core, hooks)
	}

	var opts []zap.Option
	if config.ShowLineNumber {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...)
}

// exactLevel enables a single level so each file only holds its own entries.
func exactLevel(level zapcore.Level) zap.LevelEnablerFunc {
	return func(l zapcore.Level) bool {
		return l == level
	}
}

// Component returns a named child of logger, or a no-op logger when nil.
func Component(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(name)
}
