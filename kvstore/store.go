// Package kvstore persists small string values (the admin-access flag) so
// they survive a restart.
package kvstore

import (
	"context"
	"fmt"
	"sync"

	redis "github.com/go-redis/redis/v8"

	"github.com/fring-app/fring-core/errors"
)

// Store is a persisted string key-value store.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
)

// Config selects and configures a driver.
type Config struct {
	Driver string `mapstructure:"driver" json:"driver" yaml:"driver" default:"file"`
	// Path is the JSON file used by the file driver.
	Path string `mapstructure:"path" json:"path" yaml:"path" default:"data/state.json"`
}

// Open builds the configured store. The redis driver needs a connected client.
func Open(cfg Config, client *redis.Client, keyPrefix string) (Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile, "":
		return NewFile(cfg.Path)
	case DriverRedis:
		if client == nil {
			return nil, errors.NewConfig("redis storage driver needs a redis client", nil)
		}
		return NewRedis(client, keyPrefix), nil
	default:
		return nil, errors.NewConfig(fmt.Sprintf("unknown storage driver %q", cfg.Driver), nil)
	}
}

// Memory is a process-local store, used in tests and as a fallback.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
