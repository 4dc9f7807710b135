package ntlm

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxDrain bounds how much of an intermediate 401 body is read before the
// connection is reused for the next handshake leg.
const maxDrain = 64 << 10

// Negotiator is an http.RoundTripper that answers NTLM challenges. Each
// request gets its own Handshake; the legs are sent back to back so the
// underlying transport reuses the same keep-alive connection.
type Negotiator struct {
	creds  Credentials
	base   http.RoundTripper
	logger *slog.Logger
}

// NewNegotiator wraps base (http.DefaultTransport when nil).
func NewNegotiator(creds Credentials, base http.RoundTripper, logger *slog.Logger) *Negotiator {
	if base == nil {
		base = http.DefaultTransport
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Negotiator{creds: creds, base: base, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (n *Negotiator) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := n.base.RoundTrip(withBody(req, body, ""))
	if err != nil {
		return nil, err
	}

	challenge, ok := ntlmChallenge(resp)
	if !ok {
		return resp, nil
	}

	hs := NewHandshake(n.creds, n.logger)

	for !hs.IsComplete() {
		if err := hs.ProcessChallenge(challenge); err != nil {
			drain(resp)
			return nil, fmt.Errorf("ntlm: %s %s: %w", req.Method, req.URL.Redacted(), err)
		}

		if hs.IsComplete() {
			// Server rejected the Type 3 response; hand the 401 back.
			return resp, nil
		}

		auth, err := hs.Authenticate()
		if err != nil {
			drain(resp)
			return nil, err
		}

		drain(resp)

		resp, err = n.base.RoundTrip(withBody(req, body, auth))
		if err != nil {
			return nil, err
		}

		if hs.IsComplete() {
			break
		}

		challenge, ok = ntlmChallenge(resp)
		if !ok {
			return resp, nil
		}
	}

	return resp, nil
}

// ntlmChallenge returns the NTLM WWW-Authenticate value of a 401 response.
func ntlmChallenge(resp *http.Response) (string, bool) {
	if resp.StatusCode != http.StatusUnauthorized {
		return "", false
	}

	for _, v := range resp.Header.Values("WWW-Authenticate") {
		if len(v) >= len(Scheme) && strings.EqualFold(v[:len(Scheme)], Scheme) {
			return v, true
		}
	}

	return "", false
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}

	defer req.Body.Close()

	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("ntlm: buffering request body: %w", err)
	}

	return b, nil
}

// withBody clones req with a fresh copy of body and the given Authorization
// header (none when auth is empty).
func withBody(req *http.Request, body []byte, auth string) *http.Request {
	r := req.Clone(req.Context())

	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		r.ContentLength = int64(len(body))
	}

	if auth != "" {
		r.Header.Set("Authorization", auth)
	}

	return r
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	resp.Body.Close()
}
