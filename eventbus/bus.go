// Package eventbus is the in-process topic pub/sub used by the coordinator,
// the metrics service and the HTTP gateway.
//
// Delivery is synchronous in the publisher's goroutine. Every delivery runs
// through the middleware Chain, and a failing or panicking subscriber never
// stops the others. Each topic keeps a bounded history, and the first
// publication of a topic is announced on events.TopicNewEvent so pattern
// subscriptions can pick it up.
package eventbus

import (
	"context"
	stderrors "errors"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fring-app/fring-core/errors"
	"github.com/fring-app/fring-core/events"
)

// DefaultMaxHistory is the per-topic history capacity.
const DefaultMaxHistory = 10

// ErrBusClosed is returned when publishing to a closed bus.
var ErrBusClosed = stderrors.New("event bus is closed")

// Handler receives a delivered event. A returned error is logged only.
type Handler func(ctx context.Context, event events.Event) error

// Subscription cancels a registration. Unsubscribe is safe to call repeatedly.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

type subscriberEntry struct {
	id      uint64
	handler Handler
}

// Option configures a Bus.
type Option func(*Bus)

// WithMaxHistory sets the per-topic history capacity.
func WithMaxHistory(n int) Option {
	return func(b *Bus) { b.maxHistory = clampHistory(n) }
}

// WithChain shares an existing middleware chain.
func WithChain(c *Chain) Option {
	return func(b *Bus) {
		if c != nil {
			b.chain = c
		}
	}
}

// WithBroadcaster sets the cross-instance channel. nil disables it.
func WithBroadcaster(br Broadcaster) Option {
	return func(b *Bus) { b.broadcaster = br }
}

func WithDebug(enabled bool) Option {
	return func(b *Bus) { b.debug.Store(enabled) }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// Bus is a topic pub/sub registry with per-topic history.
type Bus struct {
	logger      *zap.Logger
	chain       *Chain
	broadcaster Broadcaster
	now         func() time.Time

	mu          sync.RWMutex
	subscribers map[string][]subscriberEntry
	history     map[string][]events.Event
	maxHistory  int
	globals     map[uint64]func()

	nextID atomic.Uint64
	debug  atomic.Bool
	closed atomic.Bool
}

// New creates a bus. Without WithBroadcaster the bus broadcasts in process.
func New(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		logger:      logger,
		chain:       NewChain(),
		broadcaster: NewLocalBroadcaster(),
		now:         time.Now,
		subscribers: make(map[string][]subscriberEntry),
		history:     make(map[string][]events.Event),
		maxHistory:  DefaultMaxHistory,
		globals:     make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Chain returns the middleware chain applied to every delivery.
func (b *Bus) Chain() *Chain {
	return b.chain
}

// Subscribe registers handler for topic. Every call creates a distinct
// subscription, even for the same handler.
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	_, sub := b.subscribe(topic, handler)
	return sub
}

func (b *Bus) subscribe(topic string, handler Handler) (uint64, Subscription) {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], subscriberEntry{id: id, handler: handler})
	b.mu.Unlock()

	return id, SubscriptionFunc(func() { b.unsubscribe(topic, id) })
}

// registered reports whether subscriber id is still attached to topic.
// Clear and ClearAll detach subscribers without their handles knowing.
func (b *Bus) registered(topic string, id uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, entry := range b.subscribers[topic] {
		if entry.id == id {
			return true
		}
	}
	return false
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, entry := range subs {
		if entry.id != id {
			continue
		}
		if len(subs) == 1 {
			delete(b.subscribers, topic)
		} else {
			b.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
		}
		return
	}
}

// SubscribeToMany subscribes handler to each topic.
func (b *Bus) SubscribeToMany(topics []string, handler Handler) []Subscription {
	subs := make([]Subscription, 0, len(topics))
	for _, topic := range topics {
		subs = append(subs, b.Subscribe(topic, handler))
	}
	return subs
}

// SubscribeToPattern subscribes handler to every known topic matching re and
// to every topic announced later that matches. The returned subscription
// tears all of them down, including the watch on the announcement topic.
func (b *Bus) SubscribeToPattern(re *regexp.Regexp, handler Handler) Subscription {
	ps := &patternSubscription{bus: b, re: re, handler: handler, subs: make(map[string]patternTopic)}

	// Watch announcements first so a topic created meanwhile is not missed.
	ps.meta = b.Subscribe(events.TopicNewEvent, func(_ context.Context, event events.Event) error {
		if nt, ok := event.Data.(events.NewTopic); ok {
			ps.add(nt.EventName)
		}
		return nil
	})
	for _, topic := range b.Topics() {
		ps.add(topic)
	}
	return ps
}

type patternSubscription struct {
	bus     *Bus
	re      *regexp.Regexp
	handler Handler

	mu     sync.Mutex
	meta   Subscription
	subs   map[string]patternTopic
	closed bool
}

type patternTopic struct {
	id  uint64
	sub Subscription
}

func (p *patternSubscription) add(topic string) {
	if !p.re.MatchString(topic) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	// A topic cleared on the bus is announced again on its next publish and
	// needs a fresh subscription.
	if pt, ok := p.subs[topic]; ok && p.bus.registered(topic, pt.id) {
		return
	}
	id, sub := p.bus.subscribe(topic, p.handler)
	p.subs[topic] = patternTopic{id: id, sub: sub}
}

func (p *patternSubscription) Unsubscribe() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.subs
	p.subs = nil
	meta := p.meta
	p.mu.Unlock()

	meta.Unsubscribe()
	for _, pt := range subs {
		pt.sub.Unsubscribe()
	}
}

// SubscribeToGlobal listens only to the broadcast channel of topic.
func (b *Bus) SubscribeToGlobal(topic string, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if b.broadcaster == nil {
		return nil, errors.NewConfig("no broadcaster configured", nil)
	}

	cancel, err := b.broadcaster.Listen(context.Background(), topic, func(ctx context.Context, event events.Event) {
		b.invoke(ctx, handler, event)
	})
	if err != nil {
		return nil, err
	}

	id := b.nextID.Add(1)
	b.mu.Lock()
	b.globals[id] = cancel
	b.mu.Unlock()

	return SubscriptionFunc(func() {
		b.mu.Lock()
		cancel, ok := b.globals[id]
		delete(b.globals, id)
		b.mu.Unlock()
		if ok {
			cancel()
		}
	}), nil
}

// Publish records data in the topic history, announces new topics, delivers
// to the current subscribers and broadcasts. Subscriber and broadcast
// failures are logged, never returned.
func (b *Bus) Publish(ctx context.Context, topic string, data events.Payload) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	event := events.Event{Topic: topic, Data: data, Timestamp: b.now()}

	b.mu.Lock()
	h, existed := b.history[topic]
	h = append(h, event)
	if over := len(h) - b.maxHistory; over > 0 {
		h = append([]events.Event(nil), h[over:]...)
	}
	b.history[topic] = h
	b.mu.Unlock()

	if !existed && topic != events.TopicNewEvent {
		_ = b.Publish(ctx, events.TopicNewEvent, events.NewTopic{EventName: topic})
	}

	b.mu.RLock()
	subs := make([]subscriberEntry, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.RUnlock()

	if b.debug.Load() {
		b.logger.Debug("publish",
			zap.String("topic", topic),
			zap.Int("subscribers", len(subs)))
	}

	for _, entry := range subs {
		b.deliver(ctx, entry, event)
	}

	if b.broadcaster != nil {
		if err := b.broadcaster.Broadcast(ctx, event); err != nil {
			b.logger.Warn("broadcast failed",
				zap.String("channel", events.GlobalChannel(topic)),
				zap.Error(err))
		}
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, entry subscriberEntry, event events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event middleware panic",
				zap.String("topic", event.Topic),
				zap.Any("panic", r))
		}
	}()
	b.chain.Execute(ctx, event, func(ctx context.Context, ev events.Event) {
		b.invoke(ctx, entry.handler, ev)
	})
}

func (b *Bus) invoke(ctx context.Context, handler Handler, event events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				zap.String("topic", event.Topic),
				zap.Any("panic", r))
		}
	}()
	if err := handler(ctx, event); err != nil {
		b.logger.Warn("event handler error",
			zap.String("topic", event.Topic),
			zap.Error(err))
	}
}

// History returns the retained events of topic, oldest first.
func (b *Bus) History(topic string) []events.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h := b.history[topic]
	out := make([]events.Event, len(h))
	copy(out, h)
	return out
}

func (b *Bus) HasSubscribers(topic string) bool {
	return b.SubscriberCount(topic) > 0
}

func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Topics lists every topic with subscribers or history, sorted.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{}, len(b.subscribers)+len(b.history))
	for topic := range b.subscribers {
		seen[topic] = struct{}{}
	}
	for topic := range b.history {
		seen[topic] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for topic := range seen {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Clear drops subscribers and history of topic.
func (b *Bus) Clear(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, topic)
	delete(b.history, topic)
}

// ClearAll drops subscribers and history of every topic.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string][]subscriberEntry)
	b.history = make(map[string][]events.Event)
}

// SetMaxHistorySize changes the history capacity; n < 1 becomes 1. Longer
// histories are trimmed to the newest n events.
func (b *Bus) SetMaxHistorySize(n int) {
	n = clampHistory(n)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxHistory = n
	for topic, h := range b.history {
		if over := len(h) - n; over > 0 {
			b.history[topic] = append([]events.Event(nil), h[over:]...)
		}
	}
}

func (b *Bus) MaxHistorySize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxHistory
}

func (b *Bus) SetDebug(enabled bool) {
	b.debug.Store(enabled)
}

// Close drops every subscriber and stops the global listeners. Later
// publications return ErrBusClosed.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	globals := b.globals
	b.globals = make(map[uint64]func())
	b.subscribers = make(map[string][]subscriberEntry)
	b.mu.Unlock()

	for _, cancel := range globals {
		cancel()
	}
	return nil
}

func clampHistory(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
