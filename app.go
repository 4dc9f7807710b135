package main

import (
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tonimelisma/reporoute/internal/config"
	"github.com/tonimelisma/reporoute/internal/dispatch"
	"github.com/tonimelisma/reporoute/internal/provider"
	"github.com/tonimelisma/reporoute/internal/repository"
	"github.com/tonimelisma/reporoute/internal/session"
	"github.com/tonimelisma/reporoute/internal/sharepoint"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	registry   *repository.Registry
	sync       *config.RegistrySync
	dispatcher *dispatch.Dispatcher
	metrics    *prometheus.Registry
}

// newHTTPClient returns the base client for token exchange and WebDAV
// transports, honoring the [network] timeouts.
func newHTTPClient(cfg *config.Config) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout()}

	return &http.Client{
		Timeout: cfg.RequestTimeout(),
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: cfg.ConnectTimeout(),
			MaxIdleConnsPerHost: 4,
		},
	}
}

// newApp wires registry, session factory and dispatcher from cc's config
// and registers the configured repositories.
func newApp(cc *CLIContext) (*app, error) {
	cfg := cc.Cfg
	logger := cc.Logger
	reg := prometheus.NewRegistry()
	hc := newHTTPClient(cfg)

	spo := sharepoint.NewClient(hc, cfg.SharePointClientConfig(), logger, sharepoint.NewMetrics(reg))
	cache := session.NewCache(cfg.SessionCacheOptions(), logger, session.NewMetrics(reg))
	factory := session.NewFactory(spo, cache, session.FactoryOptions{
		Workstation: cfg.NTLM.Workstation,
		UserAgent:   cfg.Network.UserAgent,
	}, logger)

	registry := repository.NewRegistry(logger)
	rs := config.NewRegistrySync(registry, logger)

	entries, err := cfg.Entries(nil)
	if err != nil {
		return nil, fmt.Errorf("loading repositories: %w", err)
	}

	if _, err := rs.Apply(entries); err != nil {
		return nil, fmt.Errorf("registering repositories: %w", err)
	}

	d := dispatch.New(registry, factory, provider.Defaults(hc, nil), logger, dispatch.NewMetrics(reg))

	return &app{
		registry:   registry,
		sync:       rs,
		dispatcher: d,
		metrics:    reg,
	}, nil
}
