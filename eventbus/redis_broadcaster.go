package eventbus

import (
	"context"
	"sync"

	redis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fring-app/fring-core/errors"
	"github.com/fring-app/fring-core/events"
)

// RedisBroadcaster publishes envelopes on Redis pub/sub channels named
// events.GlobalChannel(topic).
type RedisBroadcaster struct {
	client   *redis.Client
	registry *events.Registry
	origin   string
	logger   *zap.Logger

	mu      sync.Mutex
	pubsubs map[*redis.PubSub]struct{}
	wg      sync.WaitGroup
}

func NewRedisBroadcaster(client *redis.Client, registry *events.Registry, logger *zap.Logger) *RedisBroadcaster {
	if registry == nil {
		registry = events.DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{
		client:   client,
		registry: registry,
		origin:   uuid.NewString(),
		logger:   logger,
		pubsubs:  make(map[*redis.PubSub]struct{}),
	}
}

// Origin identifies this instance in outgoing envelopes.
func (r *RedisBroadcaster) Origin() string {
	return r.origin
}

func (r *RedisBroadcaster) Broadcast(ctx context.Context, event events.Event) error {
	channel := events.GlobalChannel(event.Topic)
	body, err := encodeEnvelope(r.origin, event)
	if err != nil {
		return errors.NewTransport(channel, err)
	}
	if err := r.client.Publish(ctx, channel, body).Err(); err != nil {
		return errors.NewTransport(channel, err)
	}
	return nil
}

func (r *RedisBroadcaster) Listen(ctx context.Context, topic string, fn func(context.Context, events.Event)) (func(), error) {
	channel := events.GlobalChannel(topic)
	ps := r.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no message is lost after return.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.NewTransport(channel, err)
	}

	r.mu.Lock()
	r.pubsubs[ps] = struct{}{}
	r.mu.Unlock()

	msgs := ps.Channel()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range msgs {
			event, env, err := decodeEnvelope(r.registry, []byte(msg.Payload))
			if err != nil {
				r.logger.Warn("drop malformed broadcast",
					zap.String("channel", msg.Channel),
					zap.Error(err))
				continue
			}
			r.logger.Debug("broadcast received",
				zap.String("channel", msg.Channel),
				zap.String("origin", env.Origin))
			fn(context.Background(), event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.pubsubs, ps)
			r.mu.Unlock()
			if err := ps.Close(); err != nil {
				r.logger.Debug("close pubsub", zap.String("channel", channel), zap.Error(err))
			}
		})
	}, nil
}

// Close stops every listener and waits for their goroutines. The client is
// owned by the caller.
func (r *RedisBroadcaster) Close() error {
	r.mu.Lock()
	pubsubs := r.pubsubs
	r.pubsubs = make(map[*redis.PubSub]struct{})
	r.mu.Unlock()

	for ps := range pubsubs {
		_ = ps.Close()
	}
	r.wg.Wait()
	return nil
}
