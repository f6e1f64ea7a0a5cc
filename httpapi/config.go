package httpapi

import "time"

// Config of the HTTP gateway.
type Config struct {
	Addr              string        `mapstructure:"addr" json:"addr" yaml:"addr" default:":8080"`
	CORSOrigins       []string      `mapstructure:"cors-origins" json:"cors-origins" yaml:"cors-origins" default:"[\"*\"]"`
	ReadHeaderTimeout time.Duration `mapstructure:"read-header-timeout" json:"read-header-timeout" yaml:"read-header-timeout" default:"5s"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown-timeout" json:"shutdown-timeout" yaml:"shutdown-timeout" default:"10s"`
	// PublishRate limits POST /api/events per client, in requests per second.
	// Zero disables the limit.
	PublishRate  float64 `mapstructure:"publish-rate" json:"publish-rate" yaml:"publish-rate" default:"50"`
	PublishBurst int     `mapstructure:"publish-burst" json:"publish-burst" yaml:"publish-burst" default:"100"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `mapstructure:"max-body-bytes" json:"max-body-bytes" yaml:"max-body-bytes" default:"1048576"`
}
