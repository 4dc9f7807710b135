package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "REPOROUTE_CONFIG"
	EnvLogLevel = "REPOROUTE_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // REPOROUTE_CONFIG: override config file path
	LogLevel   string // REPOROUTE_LOG_LEVEL: override [logging] log_level
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
