package session

import (
	"net/http"
	"strings"

	"github.com/tonimelisma/reporoute/internal/sharepoint"
)

// headerTransport sets User-Agent and disables intermediary caching.
type headerTransport struct {
	userAgent string
	base      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())

	if t.userAgent != "" && r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", t.userAgent)
	}

	r.Header.Set("Cache-Control", "no-cache")
	r.Header.Set("Pragma", "no-cache")
	r.Header.Set("Expires", "0")

	return t.base.RoundTrip(r)
}

// basicTransport sends credentials on every request without waiting for a
// 401 challenge.
type basicTransport struct {
	auth BasicAuth
	base http.RoundTripper
}

func (t *basicTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.auth.Username, t.auth.Password)

	return t.base.RoundTrip(r)
}

// cookieTransport attaches SharePoint session cookies to requests for the
// tenant host only.
type cookieTransport struct {
	cookies sharepoint.Cookies
	base    http.RoundTripper
}

func (t *cookieTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !strings.EqualFold(req.URL.Hostname(), t.cookies.Host()) {
		return t.base.RoundTrip(req)
	}

	r := req.Clone(req.Context())
	r.AddCookie(&http.Cookie{Name: "rtFa", Value: t.cookies.RtFa})
	r.AddCookie(&http.Cookie{Name: "FedAuth", Value: t.cookies.FedAuth})

	return t.base.RoundTrip(r)
}
