package eventbus

import (
	"fmt"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/fring-app/fring-core/errors"
	"github.com/fring-app/fring-core/events"
)

// Config is the eventbus section of the application config.
type Config struct {
	MaxHistory int  `mapstructure:"max-history" json:"max-history" yaml:"max-history" default:"10"`
	Debug      bool `mapstructure:"debug" json:"debug" yaml:"debug"`
	// Broadcast selects the cross-instance driver: local, redis, rabbitmq or none.
	Broadcast string `mapstructure:"broadcast" json:"broadcast" yaml:"broadcast" default:"local"`
}

// OpenBroadcaster builds the driver named by cfg.Broadcast. A nil broadcaster
// with a nil error means broadcasting is disabled.
func OpenBroadcaster(cfg Config, client *redis.Client, rabbit RabbitMQConfig, registry *events.Registry, logger *zap.Logger) (Broadcaster, error) {
	switch cfg.Broadcast {
	case DriverLocal, "":
		return NewLocalBroadcaster(), nil
	case DriverNone:
		return nil, nil
	case DriverRedis:
		if client == nil {
			return nil, errors.NewConfig("redis broadcaster needs a redis client", nil)
		}
		return NewRedisBroadcaster(client, registry, logger), nil
	case DriverRabbitMQ:
		br, err := NewAMQPBroadcaster(rabbit, registry, logger)
		if err != nil {
			return nil, err
		}
		return br, nil
	default:
		return nil, errors.NewConfig(fmt.Sprintf("unknown broadcast driver %q", cfg.Broadcast), nil)
	}
}

// Options turns cfg into bus options.
func (cfg Config) Options(br Broadcaster) []Option {
	return []Option{
		WithMaxHistory(cfg.MaxHistory),
		WithDebug(cfg.Debug),
		WithBroadcaster(br),
	}
}
