// Package sharepoint implements the SharePoint Online federated sign-in:
// a WS-Trust security token request against the Microsoft identity
// endpoint, followed by exchanging the token for the rtFa and FedAuth
// session cookies.
package sharepoint

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Defaults for Config.
const (
	DefaultSTSURL          = "https://login.microsoftonline.com/extSTS.srf"
	DefaultSignInURLFormat = "https://%s.sharepoint.com/_forms/default.aspx?wa=wsignin1.0"
	DefaultMaxAttempts     = 5
	DefaultRetryDelay      = 3 * time.Second
)

// maxResponseBytes caps how much of an identity or sign-in response is read.
const maxResponseBytes = 1 << 20

// Sentinel errors.
var (
	// ErrAuthToken means the identity endpoint returned no usable token.
	ErrAuthToken = errors.New("sharepoint: no security token in identity response")

	// ErrMissingCookies means sign-in succeeded at the HTTP level but did
	// not set both session cookies.
	ErrMissingCookies = errors.New("sharepoint: sign-in response lacks rtFa or FedAuth cookie")

	// ErrReauthenticationExhausted is returned once every retry attempt
	// has failed.
	ErrReauthenticationExhausted = errors.New("sharepoint: reauthentication attempts exhausted")
)

// Config controls endpoints and retry policy. Zero fields take defaults.
type Config struct {
	STSURL          string
	SignInURLFormat string
	MaxAttempts     int
	RetryDelay      time.Duration
	UserAgent       string
}

func (c Config) withDefaults() Config {
	if c.STSURL == "" {
		c.STSURL = DefaultSTSURL
	}

	if c.SignInURLFormat == "" {
		c.SignInURLFormat = DefaultSignInURLFormat
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}

	return c
}

// SignInURL returns the tenant sign-in endpoint.
func (c Config) SignInURL(tenant string) string {
	return fmt.Sprintf(c.withDefaults().SignInURLFormat, tenant)
}

// Cookies are the session cookies issued by a tenant.
type Cookies struct {
	Tenant  string
	RtFa    string
	FedAuth string
}

// Host is the tenant host the cookies are valid for.
func (c Cookies) Host() string {
	return strings.ToLower(c.Tenant) + ".sharepoint.com"
}

// Header renders the cookies as a Cookie header value.
func (c Cookies) Header() string {
	return "rtFa=" + c.RtFa + "; FedAuth=" + c.FedAuth
}

// LogValue keeps cookie values out of logs.
func (c Cookies) LogValue() slog.Value {
	return slog.GroupValue(slog.String("tenant", c.Tenant))
}

// Client performs token exchanges. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
	metrics    *Metrics

	// sleepFunc waits between retries. Replaced in tests.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client. httpClient is copied so that disabling
// redirects for the sign-in POST does not affect the caller's client.
func NewClient(httpClient *http.Client, cfg Config, logger *slog.Logger, metrics *Metrics) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	hc := *httpClient
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	hc.Jar = nil

	return &Client{
		httpClient: &hc,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		metrics:    metrics,
		sleepFunc:  timeSleep,
	}
}

// AuthToken requests a binary security token for username/password from the
// identity endpoint. Returns ErrAuthToken when the response carries none.
func (c *Client) AuthToken(ctx context.Context, tenant, username, password string) (string, error) {
	envelope := securityTokenRequest(c.cfg.SignInURL(tenant), username, password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.STSURL, strings.NewReader(envelope))
	if err != nil {
		return "", fmt.Errorf("sharepoint: creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	c.setUserAgent(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sharepoint: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("sharepoint: reading token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sharepoint: identity endpoint returned HTTP %d: %w", resp.StatusCode, ErrAuthToken)
	}

	token, err := extractToken(body)
	if err != nil {
		return "", err
	}

	if token == "" {
		return "", ErrAuthToken
	}

	return token, nil
}

// SubmitToken posts token to the tenant sign-in endpoint without following
// redirects and returns the issued cookies.
func (c *Client) SubmitToken(ctx context.Context, tenant, token string) (Cookies, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SignInURL(tenant), strings.NewReader(token))
	if err != nil {
		return Cookies{}, fmt.Errorf("sharepoint: creating sign-in request: %w", err)
	}

	req.Header.Set("Accept", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	c.setUserAgent(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Cookies{}, fmt.Errorf("sharepoint: sign-in request: %w", err)
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()

	out := Cookies{Tenant: tenant}

	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case "rtFa":
			out.RtFa = ck.Value
		case "FedAuth":
			out.FedAuth = ck.Value
		}
	}

	if out.RtFa == "" || out.FedAuth == "" {
		return Cookies{}, fmt.Errorf("%w (HTTP %d)", ErrMissingCookies, resp.StatusCode)
	}

	return out, nil
}

// Cookies runs both exchange steps once.
func (c *Client) Cookies(ctx context.Context, tenant, username, password string) (Cookies, error) {
	start := time.Now()

	token, err := c.AuthToken(ctx, tenant, username, password)
	if err != nil {
		c.metrics.recordAttempt(false, time.Since(start))
		return Cookies{}, err
	}

	cookies, err := c.SubmitToken(ctx, tenant, token)
	c.metrics.recordAttempt(err == nil, time.Since(start))

	return cookies, err
}

// CookiesWithRetry runs Cookies up to MaxAttempts times with a fixed
// RetryDelay between attempts. Each failure is logged before the wait.
// Context cancellation is returned immediately.
func (c *Client) CookiesWithRetry(ctx context.Context, tenant, username, password string) (Cookies, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		cookies, err := c.Cookies(ctx, tenant, username, password)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("sharepoint sign-in succeeded after retry",
					slog.String("tenant", tenant),
					slog.Int("attempts", attempt),
				)
			}

			return cookies, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return Cookies{}, ctxErr
		}

		lastErr = err

		if attempt == c.cfg.MaxAttempts {
			break
		}

		c.logger.Warn("sharepoint sign-in failed, retrying",
			slog.String("tenant", tenant),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.MaxAttempts),
			slog.Duration("delay", c.cfg.RetryDelay),
			slog.String("error", err.Error()),
		)

		if err := c.sleepFunc(ctx, c.cfg.RetryDelay); err != nil {
			return Cookies{}, err
		}
	}

	c.metrics.recordExhausted()
	c.logger.Error("sharepoint sign-in exhausted",
		slog.String("tenant", tenant),
		slog.Int("attempts", c.cfg.MaxAttempts),
		slog.String("error", lastErr.Error()),
	)

	return Cookies{}, fmt.Errorf("%w after %d attempts: %w", ErrReauthenticationExhausted, c.cfg.MaxAttempts, lastErr)
}

func (c *Client) setUserAgent(req *http.Request) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}

// extractToken returns the text of the first BinarySecurityToken element,
// in any namespace. Malformed XML is reported as ErrAuthToken.
func extractToken(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	var (
		inToken bool
		text    strings.Builder
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", nil
		}

		if err != nil {
			return "", fmt.Errorf("%w: parsing identity response: %w", ErrAuthToken, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "BinarySecurityToken" {
				inToken = true
			}
		case xml.CharData:
			if inToken {
				text.Write(t)
			}
		case xml.EndElement:
			if inToken && t.Name.Local == "BinarySecurityToken" {
				return strings.TrimSpace(text.String()), nil
			}
		}
	}
}

// timeSleep waits for d or until ctx is done.
func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
