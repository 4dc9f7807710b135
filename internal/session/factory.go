package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/google/uuid"

	"github.com/tonimelisma/reporoute/internal/ntlm"
	"github.com/tonimelisma/reporoute/internal/repopath"
	"github.com/tonimelisma/reporoute/internal/repository"
	"github.com/tonimelisma/reporoute/internal/sharepoint"
)

// TokenExchanger obtains SharePoint Online session cookies.
type TokenExchanger interface {
	CookiesWithRetry(ctx context.Context, tenant, username, password string) (sharepoint.Cookies, error)
}

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	// Workstation is sent in NTLM AUTHENTICATE messages.
	Workstation string
	// UserAgent is applied by Config.HTTPClient.
	UserAgent string
}

// Factory builds sessions from repository credentials. SharePoint Online
// sessions require a token exchange and are cached; every other kind is
// built in memory on each call.
type Factory struct {
	spo    TokenExchanger
	cache  *Cache
	opts   FactoryOptions
	logger *slog.Logger
}

// NewFactory creates a Factory. spo may be nil when no SharePoint Online
// repositories are configured.
func NewFactory(spo TokenExchanger, cache *Cache, opts FactoryOptions, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}

	if cache == nil {
		cache = NewCache(CacheOptions{}, logger, nil)
	}

	return &Factory{spo: spo, cache: cache, opts: opts, logger: logger}
}

// Cache returns the factory's session cache.
func (f *Factory) Cache() *Cache {
	return f.cache
}

// Session returns the session for repo, using the cache for kinds that
// need network round trips. A repository without credentials yields an
// anonymous session.
func (f *Factory) Session(ctx context.Context, repo repository.Repository) (*Config, error) {
	if repo.Creds == nil || repo.Creds.Kind != repository.AuthSharePointOnline {
		return f.Build(ctx, repo)
	}

	key, err := f.cacheKey(repo)
	if err != nil {
		return nil, err
	}

	return f.cache.GetOrCreate(ctx, key, func(ctx context.Context) (*Config, error) {
		return f.Build(ctx, repo)
	})
}

// Invalidate evicts the cached session for repo's credentials.
func (f *Factory) Invalidate(repo repository.Repository) {
	if repo.Creds == nil || repo.Creds.Kind != repository.AuthSharePointOnline {
		return
	}

	key, err := f.cacheKey(repo)
	if err != nil {
		return
	}

	f.cache.Invalidate(key)
}

// Refresh replaces stale, a session for repo that the remote end rejected.
// Callers that refresh the same stale session concurrently share one
// rebuild; a caller whose stale session was already replaced gets the
// replacement. Uncached kinds are simply rebuilt.
func (f *Factory) Refresh(ctx context.Context, repo repository.Repository, stale *Config) (*Config, error) {
	if repo.Creds == nil || repo.Creds.Kind != repository.AuthSharePointOnline {
		return f.Build(ctx, repo)
	}

	key, err := f.cacheKey(repo)
	if err != nil {
		return nil, err
	}

	return f.cache.Refresh(ctx, key, stale, func(ctx context.Context) (*Config, error) {
		return f.Build(ctx, repo)
	})
}

// Build constructs a session for repo without consulting the cache.
func (f *Factory) Build(ctx context.Context, repo repository.Repository) (*Config, error) {
	cfg := &Config{
		ID:        uuid.NewString(),
		userAgent: f.opts.UserAgent,
		logger:    f.logger,
	}

	if repo.Creds == nil {
		return cfg, nil
	}

	creds := *repo.Creds
	cfg.Kind = creds.Kind

	fail := func(err error) (*Config, error) {
		return nil, &BuildError{Kind: creds.Kind, Path: repo.Path, Err: err}
	}

	switch creds.Kind {
	case repository.AuthBasic:
		cfg.Basic = &BasicAuth{Username: qualifiedUser(creds), Password: creds.Secret}

	case repository.AuthNTLM:
		cfg.NTLM = &ntlm.Credentials{
			Domain:      creds.Domain,
			Username:    creds.Username,
			Password:    creds.Secret,
			Workstation: f.opts.Workstation,
		}

	case repository.AuthCIFS:
		cfg.CIFS = &CIFSCredential{Domain: creds.Domain, Username: creds.Username, Password: creds.Secret}

	case repository.AuthCloudKey:
		cred, err := azblob.NewSharedKeyCredential(creds.Username, creds.Secret)
		if err != nil {
			return fail(fmt.Errorf("invalid storage account key: %w", err))
		}

		cfg.CloudKey = &CloudKey{Account: creds.Username, Credential: cred}

	case repository.AuthSharePointOnline:
		if f.spo == nil {
			return fail(fmt.Errorf("no token exchange client configured: %w", ErrUnsupportedAuth))
		}

		tenant, err := tenantFor(repo)
		if err != nil {
			return fail(err)
		}

		cookies, err := f.spo.CookiesWithRetry(ctx, tenant, creds.Username, creds.Secret)
		if err != nil {
			return fail(err)
		}

		cfg.SharePoint = &cookies

	default:
		return fail(fmt.Errorf("%w %q", ErrUnsupportedAuth, creds.Kind))
	}

	f.logger.Debug("session configured",
		slog.String("session_id", cfg.ID),
		slog.String("path", repo.Path),
		slog.Any("creds", creds),
	)

	return cfg, nil
}

// cacheKey keys on the credential identity. When the domain is empty the
// tenant derived from the repository host stands in for it, so that equal
// user/secret pairs on different tenants do not share cookies.
func (f *Factory) cacheKey(repo repository.Repository) (Key, error) {
	creds := *repo.Creds

	if creds.Domain == "" {
		tenant, err := tenantFor(repo)
		if err != nil {
			return "", &BuildError{Kind: creds.Kind, Path: repo.Path, Err: err}
		}

		creds.Domain = tenant
	}

	return KeyForCredentials(creds), nil
}

// tenantFor returns the SharePoint tenant: the credential domain, or the
// first label of a *.sharepoint.com repository host.
func tenantFor(repo repository.Repository) (string, error) {
	if repo.Creds != nil && repo.Creds.Domain != "" {
		return repo.Creds.Domain, nil
	}

	name, err := repopath.Parse(repo.Path)
	if err != nil {
		return "", err
	}

	tenant, ok := strings.CutSuffix(strings.ToLower(name.Host), ".sharepoint.com")
	if !ok || tenant == "" || strings.Contains(tenant, ".") {
		return "", fmt.Errorf("cannot derive SharePoint tenant from host %q; set the credential domain", name.Host)
	}

	return tenant, nil
}

// qualifiedUser renders DOMAIN\user for Basic auth when a domain is set.
func qualifiedUser(c repository.Credentials) string {
	if c.Domain == "" {
		return c.Username
	}

	return c.Domain + `\` + c.Username
}
