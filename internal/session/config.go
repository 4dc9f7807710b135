package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/tonimelisma/reporoute/internal/ntlm"
	"github.com/tonimelisma/reporoute/internal/repository"
	"github.com/tonimelisma/reporoute/internal/sharepoint"
)

// ErrUnsupportedAuth is wrapped by BuildError for auth kinds that have no
// session construction (Digest).
var ErrUnsupportedAuth = errors.New("session: unsupported auth kind")

// BuildError reports a failure to construct a session. It unwraps to the
// underlying transport, network or validation error.
type BuildError struct {
	Kind repository.AuthKind
	Path string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("session: building %s session for %s: %v", e.Kind, e.Path, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// BasicAuth is a username/password pair sent preemptively.
type BasicAuth struct {
	Username string
	Password string
}

// CIFSCredential is the native SMB credential (domain, user, password).
type CIFSCredential struct {
	Domain   string
	Username string
	Password string
}

// LogValue omits the password.
func (c CIFSCredential) LogValue() slog.Value {
	return slog.GroupValue(slog.String("domain", c.Domain), slog.String("username", c.Username))
}

// CloudKey is a storage account name plus its shared-key signing credential.
type CloudKey struct {
	Account    string
	Credential *azblob.SharedKeyCredential
}

// Config is the authenticated transport configuration for one credential
// identity. Exactly one of the payload pointers is set, or none for an
// anonymous session. A Config is immutable once returned by the Factory.
type Config struct {
	ID        string
	Kind      repository.AuthKind
	CreatedAt time.Time

	Basic      *BasicAuth
	NTLM       *ntlm.Credentials
	CIFS       *CIFSCredential
	SharePoint *sharepoint.Cookies
	CloudKey   *CloudKey

	userAgent string
	logger    *slog.Logger
}

// Anonymous reports whether the session carries no credentials.
func (c *Config) Anonymous() bool {
	return c.Kind == ""
}

// LogValue identifies the session without any secret material.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", c.ID),
		slog.String("kind", string(c.Kind)),
		slog.Time("created_at", c.CreatedAt),
	)
}

// HTTPClient returns a copy of base whose transport applies this session's
// authentication and the standard request headers. base may be nil.
func (c *Config) HTTPClient(base *http.Client) *http.Client {
	var hc http.Client
	if base != nil {
		hc = *base
	}

	rt := hc.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}

	switch {
	case c.Basic != nil:
		rt = &basicTransport{auth: *c.Basic, base: rt}
	case c.NTLM != nil:
		rt = ntlm.NewNegotiator(*c.NTLM, rt, c.logger)
	case c.SharePoint != nil:
		rt = &cookieTransport{cookies: *c.SharePoint, base: rt}
	}

	hc.Transport = &headerTransport{userAgent: c.userAgent, base: rt}

	return &hc
}
