package redis_client

import "net"

type Config struct {
	Host     string `mapstructure:"host" json:"host" yaml:"host" default:"127.0.0.1"`
	Port     string `mapstructure:"port" json:"port" yaml:"port" default:"6379"`
	Password string `mapstructure:"password" json:"password" yaml:"password"`
	DB       int    `mapstructure:"db" json:"db" yaml:"db"`
	// KeyPrefix namespaces every key the application writes.
	KeyPrefix string `mapstructure:"key-prefix" json:"keyPrefix" yaml:"key-prefix" default:"fring:"`
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}
