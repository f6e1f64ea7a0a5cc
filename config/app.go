// Package config loads the application configuration from layered YAML
// files, environment variables and struct defaults.
package config

import (
	validatorV10 "github.com/go-playground/validator/v10"

	"github.com/fring-app/fring-core/errors"
	"github.com/fring-app/fring-core/eventbus"
	"github.com/fring-app/fring-core/httpapi"
	"github.com/fring-app/fring-core/kvstore"
	"github.com/fring-app/fring-core/logging"
	"github.com/fring-app/fring-core/metrics"
	"github.com/fring-app/fring-core/modulemenu"
	"github.com/fring-app/fring-core/redis_client"
)

// AppConfig is the whole fringd configuration.
type AppConfig struct {
	Log         logging.Config          `mapstructure:"log" json:"log" yaml:"log"`
	EventBus    eventbus.Config         `mapstructure:"eventbus" json:"eventbus" yaml:"eventbus"`
	Coordinator modulemenu.Config       `mapstructure:"coordinator" json:"coordinator" yaml:"coordinator"`
	Metrics     metrics.Config          `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Storage     kvstore.Config          `mapstructure:"storage" json:"storage" yaml:"storage"`
	Redis       redis_client.Config     `mapstructure:"redis" json:"redis" yaml:"redis"`
	RabbitMQ    eventbus.RabbitMQConfig `mapstructure:"rabbitmq" json:"rabbitmq" yaml:"rabbitmq"`
	HTTP        httpapi.Config          `mapstructure:"http" json:"http" yaml:"http"`
}

// NeedsRedis reports whether any component is configured to use Redis.
func (c AppConfig) NeedsRedis() bool {
	return c.Storage.Driver == kvstore.DriverRedis || c.EventBus.Broadcast == eventbus.DriverRedis
}

type rules struct {
	Level     string `validate:"oneof=debug info warn error dpanic panic fatal"`
	Format    string `validate:"oneof=json console"`
	Broadcast string `validate:"oneof=local redis rabbitmq none"`
	Storage   string `validate:"oneof=memory file redis"`
	FilePath  string `validate:"required_if=Storage file"`
	Addr      string `validate:"required"`
}

var validate = validatorV10.New()

// Validate checks the values the application cannot start without.
func (c AppConfig) Validate() error {
	r := rules{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		Broadcast: c.EventBus.Broadcast,
		Storage:   c.Storage.Driver,
		FilePath:  c.Storage.Path,
		Addr:      c.HTTP.Addr,
	}
	if err := validate.Struct(r); err != nil {
		if verrs, ok := err.(validatorV10.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewConfig("invalid "+fe.Field()+" ("+fe.Tag()+")", err).
				WithDetail("field", fe.Field())
		}
		return errors.NewConfig("invalid config", err)
	}
	return nil
}
