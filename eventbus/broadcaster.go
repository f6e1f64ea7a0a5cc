package eventbus

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/fring-app/fring-core/errors"
	"github.com/fring-app/fring-core/events"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Broadcast drivers.
const (
	DriverLocal    = "local"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
	DriverNone     = "none"
)

// Broadcaster carries events over the cross-instance channel
// events.GlobalChannel(topic).
type Broadcaster interface {
	Broadcast(ctx context.Context, event events.Event) error
	// Listen calls fn for every event broadcast on topic until cancel runs.
	Listen(ctx context.Context, topic string, fn func(context.Context, events.Event)) (cancel func(), err error)
	Close() error
}

// Envelope is the wire form of a broadcast event.
type Envelope struct {
	Topic     string              `json:"topic"`
	Origin    string              `json:"origin"`
	Data      jsoniter.RawMessage `json:"data"`
	Timestamp int64               `json:"timestamp"`
}

func encodeEnvelope(origin string, event events.Event) ([]byte, error) {
	var data []byte
	if event.Data != nil {
		var err error
		if data, err = events.Encode(event.Data); err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{
		Topic:     event.Topic,
		Origin:    origin,
		Data:      data,
		Timestamp: events.Millis(event.Timestamp),
	})
}

func decodeEnvelope(registry *events.Registry, raw []byte) (events.Event, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return events.Event{}, env, err
	}
	payload, err := registry.Decode(env.Topic, env.Data)
	if err != nil {
		return events.Event{}, env, err
	}
	return events.Event{
		Topic:     env.Topic,
		Data:      payload,
		Timestamp: timeFromMillis(env.Timestamp),
	}, env, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// LocalBroadcaster fans out within the process, synchronously.
type LocalBroadcaster struct {
	mu        sync.RWMutex
	listeners map[string]map[uint64]func(context.Context, events.Event)
	next      uint64
	closed    bool
}

func NewLocalBroadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{listeners: make(map[string]map[uint64]func(context.Context, events.Event))}
}

func (l *LocalBroadcaster) Broadcast(ctx context.Context, event events.Event) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return errors.New(errors.ErrorTypeClosed, "broadcaster closed")
	}
	fns := make([]func(context.Context, events.Event), 0, len(l.listeners[event.Topic]))
	for _, fn := range l.listeners[event.Topic] {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(ctx, event)
	}
	return nil
}

func (l *LocalBroadcaster) Listen(_ context.Context, topic string, fn func(context.Context, events.Event)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.New(errors.ErrorTypeClosed, "broadcaster closed")
	}
	l.next++
	id := l.next
	if l.listeners[topic] == nil {
		l.listeners[topic] = make(map[uint64]func(context.Context, events.Event))
	}
	l.listeners[topic][id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.listeners[topic], id)
		if len(l.listeners[topic]) == 0 {
			delete(l.listeners, topic)
		}
	}, nil
}

func (l *LocalBroadcaster) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.listeners = make(map[string]map[uint64]func(context.Context, events.Event))
	return nil
}
