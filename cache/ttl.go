package cache

import (
	"sync"
	"time"
)

// TTL is an in-memory cache whose entries expire a fixed duration after they
// were stored. Expiry is lazy: an expired entry reads as a miss and stays in
// the map until it is overwritten, deleted or the cache is cleared.
type TTL[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[K]item[V]
}

type item[V any] struct {
	value    V
	storedAt time.Time
}

// NewTTL creates a cache with the given validity window.
func NewTTL[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[K]item[V]),
	}
}

// WithClock replaces the time source; used by tests.
func (c *TTL[K, V]) WithClock(now func() time.Time) *TTL[K, V] {
	c.now = now
	return c
}

// TTL returns the validity window.
func (c *TTL[K, V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value for key if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || c.expired(it) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// StoredAt returns when key was last stored, expired or not.
func (c *TTL[K, V]) StoredAt(key K) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	return it.storedAt, ok
}

// Set stores value under key, stamped with the current time.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, storedAt: c.now()}
}

// Delete removes key.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes every entry.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]item[V])
}

// Len counts stored entries, including expired ones not yet overwritten.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *TTL[K, V]) expired(it item[V]) bool {
	if c.ttl <= 0 {
		return false
	}
	return c.now().Sub(it.storedAt) >= c.ttl
}
