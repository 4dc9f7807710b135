package config

import (
	"time"

	"github.com/tonimelisma/reporoute/internal/session"
	"github.com/tonimelisma/reporoute/internal/sharepoint"
)

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultConnectTimeout = "10s"
	defaultRequestTimeout = "60s"
	defaultUserAgent      = "reporoute/1.0"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			RequestTimeout: defaultRequestTimeout,
			UserAgent:      defaultUserAgent,
		},
		Session: SessionConfig{
			TTL:          session.DefaultTTL.String(),
			BuildTimeout: session.DefaultBuildTimeout.String(),
		},
		SharePoint: SharePointConfig{
			STSURL:          sharepoint.DefaultSTSURL,
			SignInURLFormat: sharepoint.DefaultSignInURLFormat,
			MaxAttempts:     sharepoint.DefaultMaxAttempts,
			RetryDelay:      sharepoint.DefaultRetryDelay.String(),
		},
	}
}

// Durations are validated at load time, so parse errors here fall back to
// the zero value and the consumer's own default.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

// SessionCacheOptions converts [session] into cache options.
func (c *Config) SessionCacheOptions() session.CacheOptions {
	return session.CacheOptions{
		TTL:          mustDuration(c.Session.TTL),
		BuildTimeout: mustDuration(c.Session.BuildTimeout),
	}
}

// SharePointClientConfig converts [sharepoint] and the user agent into a
// token exchange client config.
func (c *Config) SharePointClientConfig() sharepoint.Config {
	return sharepoint.Config{
		STSURL:          c.SharePoint.STSURL,
		SignInURLFormat: c.SharePoint.SignInURLFormat,
		MaxAttempts:     c.SharePoint.MaxAttempts,
		RetryDelay:      mustDuration(c.SharePoint.RetryDelay),
		UserAgent:       c.Network.UserAgent,
	}
}

// ConnectTimeout returns the parsed [network] connect_timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return mustDuration(c.Network.ConnectTimeout)
}

// RequestTimeout returns the parsed [network] request_timeout.
func (c *Config) RequestTimeout() time.Duration {
	return mustDuration(c.Network.RequestTimeout)
}
