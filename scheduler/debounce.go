// Package scheduler holds the keyed timing helpers the coordinator relies on:
// trailing-edge debounce and drop-inside-window throttling.
package scheduler

import (
	"sync"
	"time"
)

// Debouncer delays an action per key until the key has been quiet for the
// configured delay. Scheduling a key with a pending timer cancels and restarts
// it; only the last scheduled action runs.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*debounceTask
	seq     uint64
	closed  bool
}

type debounceTask struct {
	timer *time.Timer
	seq   uint64
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]*debounceTask),
	}
}

// Delay returns the quiet period.
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Schedule (re)arms key so fn runs once the key has been quiet for Delay.
func (d *Debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}

	// seq never repeats, even across Cancel, so a stale timer cannot match.
	d.seq++
	seq := d.seq
	task := &debounceTask{seq: seq}
	task.timer = time.AfterFunc(d.delay, func() { d.fire(key, seq, fn) })
	d.pending[key] = task
}

// fire runs fn if the task seq is still the pending one for key. A timer
// whose Stop lost the race with a reschedule or Cancel finds another seq.
func (d *Debouncer) fire(key string, seq uint64, fn func()) {
	d.mu.Lock()
	current, ok := d.pending[key]
	if !ok || current.seq != seq || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	fn()
}

// Cancel drops the pending action for key. It reports whether one was pending.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.pending[key]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(d.pending, key)
	return true
}

// Pending reports whether key has a scheduled action.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop cancels every pending action. Later Schedule calls are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	for key, task := range d.pending {
		task.timer.Stop()
		delete(d.pending, key)
	}
}
