package eventbus

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fring-app/fring-core/errors"
	"github.com/fring-app/fring-core/events"
)

func TestEnvelope_DecodesRegisteredPayload(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	raw, err := encodeEnvelope("instance-a", events.Event{
		Topic:     events.TopicNavigationRequested,
		Data:      events.NavigationRequested{Path: "/wardrobe", Timestamp: 42},
		Timestamp: at,
	})
	require.NoError(t, err)

	ev, env, err := decodeEnvelope(events.DefaultRegistry(), raw)
	require.NoError(t, err)
	assert.Equal(t, "instance-a", env.Origin)
	assert.Equal(t, events.TopicNavigationRequested, ev.Topic)
	assert.Equal(t, events.NavigationRequested{Path: "/wardrobe", Timestamp: 42}, ev.Data)
	assert.True(t, at.Equal(ev.Timestamp))
}

func TestEnvelope_UnknownTopicIsRaw(t *testing.T) {
	raw, err := encodeEnvelope("x", events.Event{Topic: "t", Data: valuePayload{V: 7}})
	require.NoError(t, err)

	ev, _, err := decodeEnvelope(events.DefaultRegistry(), raw)
	require.NoError(t, err)
	r, ok := ev.Data.(events.Raw)
	require.True(t, ok)

	var v valuePayload
	require.NoError(t, r.Decode(&v))
	assert.Equal(t, 7, v.V)
}

func TestLocalBroadcaster_Closed(t *testing.T) {
	l := NewLocalBroadcaster()
	require.NoError(t, l.Close())

	err := l.Broadcast(context.Background(), events.Event{Topic: "t"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeClosed))
	_, err = l.Listen(context.Background(), "t", func(context.Context, events.Event) {})
	assert.Error(t, err)
}

func TestOpenBroadcaster(t *testing.T) {
	br, err := OpenBroadcaster(Config{Broadcast: DriverLocal}, nil, RabbitMQConfig{}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalBroadcaster{}, br)

	br, err = OpenBroadcaster(Config{Broadcast: DriverNone}, nil, RabbitMQConfig{}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, br)

	_, err = OpenBroadcaster(Config{Broadcast: DriverRedis}, nil, RabbitMQConfig{}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = OpenBroadcaster(Config{Broadcast: DriverRabbitMQ}, nil, RabbitMQConfig{}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = OpenBroadcaster(Config{Broadcast: "kafka"}, nil, RabbitMQConfig{}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRedisBroadcaster_Integration(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("REDIS_TEST_ADDR"))
	if addr == "" {
		t.Skip("set REDIS_TEST_ADDR to run redis integration tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	br := NewRedisBroadcaster(client, nil, zap.NewNop())
	defer br.Close()
	bus := New(zap.NewNop(), WithBroadcaster(br))
	defer bus.Close()

	got := make(chan events.Event, 1)
	_, err := bus.SubscribeToGlobal(events.TopicMenuUpdated, func(_ context.Context, e events.Event) error {
		got <- e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), events.TopicMenuUpdated, events.MenuUpdated{Timestamp: 9}))

	select {
	case e := <-got:
		assert.Equal(t, events.MenuUpdated{Timestamp: 9}, e.Data)
	case <-time.After(3 * time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestAMQPBroadcaster_Integration(t *testing.T) {
	uri := strings.TrimSpace(os.Getenv("RABBITMQ_TEST_URI"))
	if uri == "" {
		t.Skip("set RABBITMQ_TEST_URI to run rabbitmq integration tests")
	}
	br, err := NewAMQPBroadcaster(RabbitMQConfig{URI: uri}, nil, zap.NewNop())
	require.NoError(t, err)
	defer br.Close()

	got := make(chan events.Event, 1)
	cancel, err := br.Listen(context.Background(), events.TopicAdminAccessGranted, func(_ context.Context, e events.Event) {
		got <- e
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, br.Broadcast(context.Background(), events.Event{
		Topic: events.TopicAdminAccessGranted,
		Data:  events.AdminAccessGranted{Timestamp: 5},
	}))

	select {
	case e := <-got:
		assert.Equal(t, events.AdminAccessGranted{Timestamp: 5}, e.Data)
	case <-time.After(3 * time.Second):
		t.Fatal("no broadcast received")
	}
}
