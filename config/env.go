package config

import (
	"os"
	"strings"
)

// EnvModeKey selects the environment-specific config files.
const EnvModeKey = "GO_ENV_MODE"

type EnvMode string

const (
	DevMode  EnvMode = "development"
	ProMode  EnvMode = "production"
	TestMode EnvMode = "test"
)

// ParseEnvMode normalises env; unknown values mean development.
func ParseEnvMode(env string) EnvMode {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "pro":
		return ProMode
	case "test", "testing":
		return TestMode
	default:
		return DevMode
	}
}

// CurrentEnvMode reads GO_ENV_MODE.
func CurrentEnvMode() EnvMode {
	return ParseEnvMode(os.Getenv(EnvModeKey))
}

// aliases lists the short file suffixes accepted for a mode.
func (m EnvMode) aliases() []string {
	switch m {
	case ProMode:
		return []string{"pro", "prod", "production"}
	case TestMode:
		return []string{"test"}
	default:
		return []string{"dev", "development"}
	}
}
