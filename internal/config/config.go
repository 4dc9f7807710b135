// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for reporoute. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) and
// keeps a repository registry in step with the file while it changes.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Logging      LoggingConfig      `toml:"logging"`
	Network      NetworkConfig      `toml:"network"`
	Session      SessionConfig      `toml:"session"`
	SharePoint   SharePointConfig   `toml:"sharepoint"`
	NTLM         NTLMConfig         `toml:"ntlm"`
	Repositories []RepositoryConfig `toml:"repository" validate:"dive"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `toml:"log_format" validate:"oneof=auto text json"`
}

// NetworkConfig controls HTTP client behavior for token exchange and
// WebDAV transports.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// SessionConfig controls the SharePoint Online session cache.
type SessionConfig struct {
	TTL          string `toml:"ttl"`
	BuildTimeout string `toml:"build_timeout"`
}

// SharePointConfig controls the SAML token exchange.
type SharePointConfig struct {
	STSURL          string `toml:"sts_url" validate:"omitempty,url"`
	SignInURLFormat string `toml:"signin_url_format" validate:"omitempty,contains=%s"`
	MaxAttempts     int    `toml:"max_attempts" validate:"gte=1,lte=20"`
	RetryDelay      string `toml:"retry_delay"`
}

// NTLMConfig controls NTLM authentication.
type NTLMConfig struct {
	Workstation string `toml:"workstation" validate:"omitempty,max=15"`
}

// RepositoryConfig is one [[repository]] entry. The secret comes either
// inline or from the environment variable named by secret_env.
type RepositoryConfig struct {
	Path      string `toml:"path" validate:"required"`
	Type      string `toml:"type" validate:"required,repotype"`
	Auth      string `toml:"auth" validate:"omitempty,authkind"`
	Domain    string `toml:"domain"`
	Username  string `toml:"username" validate:"required_with=Auth"`
	Secret    string `toml:"secret" validate:"excluded_with=SecretEnv"`
	SecretEnv string `toml:"secret_env"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	LogLevel   *string // --verbose / --quiet / --log-level
}
