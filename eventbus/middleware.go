package eventbus

import (
	"context"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/fring-app/fring-core/events"
)

// Verdict tells the chain whether delivery goes on.
type Verdict int

const (
	// Continue hands the event to the next interceptor, then the subscriber.
	Continue Verdict = iota
	// Stop drops this delivery. It is not an error.
	Stop
)

func (v Verdict) String() string {
	if v == Stop {
		return "stop"
	}
	return "continue"
}

// Middleware intercepts one subscriber delivery. It may rewrite event.Data.
type Middleware interface {
	Intercept(ctx context.Context, event *events.Event) Verdict
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx context.Context, event *events.Event) Verdict

func (f MiddlewareFunc) Intercept(ctx context.Context, event *events.Event) Verdict {
	return f(ctx, event)
}

// MiddlewareHandle identifies a registered middleware for removal.
type MiddlewareHandle uint64

type chainEntry struct {
	handle MiddlewareHandle
	mw     Middleware
}

// Chain is the ordered interceptor list run around every delivery.
type Chain struct {
	mu      sync.RWMutex
	entries []chainEntry
	next    MiddlewareHandle
}

func NewChain() *Chain {
	return &Chain{}
}

// AddMiddleware appends mw and returns the handle that removes it.
func (c *Chain) AddMiddleware(mw Middleware) MiddlewareHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.entries = append(c.entries, chainEntry{handle: c.next, mw: mw})
	return c.next
}

// RemoveMiddleware unregisters the middleware behind handle. Unknown handles
// are ignored.
func (c *Chain) RemoveMiddleware(handle MiddlewareHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.handle == handle {
			c.entries = append(c.entries[:i:i], c.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Chain) ClearMiddlewares() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Execute runs the interceptors in registration order over a copy of event
// and then final. It reports whether final ran.
func (c *Chain) Execute(ctx context.Context, event events.Event, final func(context.Context, events.Event)) bool {
	c.mu.RLock()
	entries := make([]chainEntry, len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	ev := event
	for _, e := range entries {
		if e.mw.Intercept(ctx, &ev) == Stop {
			return false
		}
	}
	if final != nil {
		final(ctx, ev)
	}
	return true
}

// LoggingMiddleware logs each delivery at debug level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return MiddlewareFunc(func(_ context.Context, event *events.Event) Verdict {
		logger.Debug("deliver event",
			zap.String("topic", event.Topic),
			zap.Time("published_at", event.Timestamp))
		return Continue
	})
}

// TopicFilter stops deliveries whose topic does not match re.
func TopicFilter(re *regexp.Regexp) Middleware {
	return MiddlewareFunc(func(_ context.Context, event *events.Event) Verdict {
		if re.MatchString(event.Topic) {
			return Continue
		}
		return Stop
	})
}
