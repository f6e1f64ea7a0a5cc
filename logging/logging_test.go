package logging

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Director != "logs" {
		t.Errorf("expected Director 'logs', got '%s'", cfg.Director)
	}
	if cfg.Level != "info" {
		t.Errorf("expected Level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected Format 'json', got '%s'", cfg.Format)
	}
	if !cfg.LogInTerminal {
		t.Error("expected LogInTerminal to be true")
	}
	if cfg.MaxSize != 100 {
		t.Errorf("expected MaxSize 100, got %d", cfg.MaxSize)
	}
}

func TestConfigZapLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"unknown", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := Config{Level: tt.level}
			if got := cfg.ZapLevel(); got != tt.expected {
				t.Errorf("ZapLevel() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNewWritesLevelFiles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Director = t.TempDir()
	cfg.LogInTerminal = false

	logger := New(cfg)
	logger.Info("menu updated", zap.String("topic", "module_menu:menu_updated"))
	logger.Warn("timer stopped without start")
	t.Cleanup(func() { _ = CloseAllWriters() })

	date := time.Now().Format("2006-01-02")
	for _, level := range []string{"info", "warn"} {
		path := filepath.Join(cfg.Director, date, level+".log")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", path, err)
		}
		if len(data) == 0 {
			t.Fatalf("expected %s to contain an entry", path)
		}
	}
}

func TestNewWithoutOutputsIsNop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Director = ""
	cfg.LogInTerminal = false

	logger := New(cfg)
	if logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("expected a no-op logger when no output is configured")
	}
}

type countingSink struct {
	mu     sync.Mutex
	counts map[string]float64
}

func (c *countingSink) IncrementCounter(name string, value float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]float64)
	}
	c.counts[name+"/"+tags["level"]] += value
}

func TestCountingHook(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	sink := &countingSink{}
	logger := zap.New(core, zap.WrapCore(WrapCore(CountingHook(sink))))

	logger.Info("a")
	logger.Info("b")
	logger.Error("c")

	if got := sink.counts["log_entries_total/info"]; got != 2 {
		t.Fatalf("info entries = %v, want 2", got)
	}
	if got := sink.counts["log_entries_total/error"]; got != 1 {
		t.Fatalf("error entries = %v, want 1", got)
	}
}

func TestWithContextAddsTraceID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	ctx := SetTraceID(context.Background(), "trace-123")
	WithContext(logger, ctx).Info("request")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["trace_id"]; got != "trace-123" {
		t.Fatalf("trace_id = %v, want trace-123", got)
	}
}

func TestGetTraceIDMissing(t *testing.T) {
	if got := GetTraceID(context.Background()); got != "" {
		t.Errorf("GetTraceID() = %q, want empty string", got)
	}
}

func TestGlobalLogger(t *testing.T) {
	if Global() == nil {
		t.Fatal("Global() returned nil")
	}

	core, logs := observer.New(zapcore.InfoLevel)
	SetGlobal(zap.New(core))
	t.Cleanup(func() { SetGlobal(zap.NewNop()) })

	Global().Info("global logger test")
	if logs.Len() != 1 {
		t.Fatalf("expected global logger to receive the entry, got %d", logs.Len())
	}
}

func TestComponentNilLogger(t *testing.T) {
	if Component(nil, "bus") == nil {
		t.Fatal("Component(nil) should return a no-op logger")
	}
}
