package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fring-app/fring-core/errors"
	"github.com/fring-app/fring-core/eventbus"
	"github.com/fring-app/fring-core/kvstore"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func testOptions(dir string, mode EnvMode) Options {
	return Options{BasePath: dir, FileName: "config", FileType: "yaml", EnvPrefix: "FRING", Mode: mode}
}

func TestLoad_DefaultsWithoutFiles(t *testing.T) {
	l, err := Load(testOptions(t.TempDir(), DevMode))
	require.NoError(t, err)
	cfg := l.Config()

	assert.Empty(t, l.Files())
	assert.Equal(t, 10, cfg.EventBus.MaxHistory)
	assert.Equal(t, eventbus.DriverLocal, cfg.EventBus.Broadcast)
	assert.Equal(t, time.Minute, cfg.Coordinator.CacheTTL)
	assert.Equal(t, 300*time.Millisecond, cfg.Coordinator.Debounce)
	assert.Equal(t, 500*time.Millisecond, cfg.Coordinator.RefreshInterval)
	assert.Equal(t, 1000, cfg.Metrics.MaxHistory)
	assert.Equal(t, time.Minute, cfg.Metrics.ReportInterval)
	assert.Equal(t, kvstore.DriverFile, cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "fring:", cfg.Redis.KeyPrefix)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoad_LayersFilesByMode(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
eventbus:
  max-history: 20
  debug: true
coordinator:
  session-user: alice
`)
	writeFile(t, dir, "config.test.yaml", `
eventbus:
  max-history: 30
`)
	writeFile(t, dir, "config.test.local.yaml", `
coordinator:
  debounce: 100ms
`)
	writeFile(t, dir, "config.production.yaml", `
eventbus:
  max-history: 99
`)

	l, err := Load(testOptions(dir, TestMode))
	require.NoError(t, err)
	cfg := l.Config()

	assert.Equal(t, []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.test.yaml"),
		filepath.Join(dir, "config.test.local.yaml"),
	}, l.Files())
	assert.Equal(t, 30, cfg.EventBus.MaxHistory)
	assert.True(t, cfg.EventBus.Debug)
	assert.Equal(t, "alice", cfg.Coordinator.SessionUser)
	assert.Equal(t, 100*time.Millisecond, cfg.Coordinator.Debounce)
	assert.Equal(t, time.Minute, cfg.Coordinator.CacheTTL)
}

func TestLoad_ModeAliases(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.prod.yaml", "eventbus:\n  max-history: 7\n")

	l, err := Load(testOptions(dir, ProMode))
	require.NoError(t, err)
	assert.Equal(t, 7, l.Config().EventBus.MaxHistory)
}

func TestLoad_EnvironmentOverridesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "eventbus:\n  max-history: 20\n")
	t.Setenv("FRING_EVENTBUS_MAX_HISTORY", "42")
	t.Setenv("FRING_COORDINATOR_CACHE_TTL", "5s")
	t.Setenv("FRING_STORAGE_DRIVER", "redis")

	l, err := Load(testOptions(dir, DevMode))
	require.NoError(t, err)
	cfg := l.Config()

	assert.Equal(t, 42, cfg.EventBus.MaxHistory)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.CacheTTL)
	assert.Equal(t, kvstore.DriverRedis, cfg.Storage.Driver)
	assert.True(t, cfg.NeedsRedis())
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown broadcaster", "eventbus:\n  broadcast: smoke\n", "Broadcast"},
		{"unknown storage", "storage:\n  driver: floppy\n", "Storage"},
		{"file store without path", "storage:\n  driver: file\n  path: \"\"\n", "FilePath"},
		{"bad log level", "log:\n  level: loud\n", "Level"},
		{"empty addr", "http:\n  addr: \"\"\n", "Addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "config.yaml", tt.body)

			_, err := Load(testOptions(dir, DevMode))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

			appErr := errors.FromError(err)
			assert.Equal(t, tt.field, appErr.Details["field"])
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "eventbus: [unclosed\n")

	_, err := Load(testOptions(dir, DevMode))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestParseEnvMode(t *testing.T) {
	tests := map[string]EnvMode{
		"":            DevMode,
		"dev":         DevMode,
		"prod":        ProMode,
		" Production": ProMode,
		"pro":         ProMode,
		"testing":     TestMode,
		"staging":     DevMode,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseEnvMode(in), in)
	}
}

func TestNeedsRedis(t *testing.T) {
	tests := []struct {
		storage, broadcast string
		want               bool
	}{
		{kvstore.DriverFile, eventbus.DriverLocal, false},
		{kvstore.DriverRedis, eventbus.DriverLocal, true},
		{kvstore.DriverMemory, eventbus.DriverRedis, true},
		{kvstore.DriverMemory, eventbus.DriverRabbitMQ, false},
	}
	for _, tt := range tests {
		cfg := AppConfig{}
		cfg.Storage.Driver = tt.storage
		cfg.EventBus.Broadcast = tt.broadcast
		assert.Equal(t, tt.want, cfg.NeedsRedis(), "%s/%s", tt.storage, tt.broadcast)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "eventbus:\n  max-history: 20\n")

	l, err := Load(testOptions(dir, DevMode))
	require.NoError(t, err)
	defer l.Close()

	changes := make(chan AppConfig, 16)
	require.NoError(t, l.Watch(zap.NewNop(), func(cfg AppConfig) { changes <- cfg }))

	writeFile(t, dir, "config.yaml", "eventbus:\n  max-history: 50\n")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.EventBus.MaxHistory == 50 {
				assert.Equal(t, 50, l.Config().EventBus.MaxHistory)
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_InvalidReloadKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "eventbus:\n  max-history: 20\n")

	l, err := Load(testOptions(dir, DevMode))
	require.NoError(t, err)
	defer l.Close()

	changes := make(chan AppConfig, 16)
	require.NoError(t, l.Watch(zap.NewNop(), func(cfg AppConfig) { changes <- cfg }))

	writeFile(t, dir, "config.yaml", "eventbus:\n  broadcast: smoke\n")
	select {
	case cfg := <-changes:
		assert.NotEqual(t, "smoke", cfg.EventBus.Broadcast)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, eventbus.DriverLocal, l.Config().EventBus.Broadcast)
}

func TestWatch_NeedsFiles(t *testing.T) {
	l, err := Load(testOptions(t.TempDir(), DevMode))
	require.NoError(t, err)
	assert.Error(t, l.Watch(nil, nil))
	assert.NoError(t, l.Close())
}
