package sharepoint

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenResponse = `<?xml version="1.0" encoding="utf-8"?>
<S:Envelope xmlns:S="http://www.w3.org/2003/05/soap-envelope" xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
  <S:Body>
    <wst:RequestSecurityTokenResponse xmlns:wst="http://schemas.xmlsoap.org/ws/2005/02/trust">
      <wst:RequestedSecurityToken>
        <wsse:BinarySecurityToken Id="Compact0">t=EwBAAk6hBwAUT0K</wsse:BinarySecurityToken>
      </wst:RequestedSecurityToken>
    </wst:RequestSecurityTokenResponse>
  </S:Body>
</S:Envelope>`

const faultResponse = `<?xml version="1.0" encoding="utf-8"?>
<S:Envelope xmlns:S="http://www.w3.org/2003/05/soap-envelope">
  <S:Body><S:Fault><S:Reason><S:Text>Authentication Failure</S:Text></S:Reason></S:Fault></S:Body>
</S:Envelope>`

func noopSleep(context.Context, time.Duration) error { return nil }

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, c.Write(&m))

	return m.GetCounter().GetValue()
}

// fakeTenant serves the identity and sign-in endpoints.
type fakeTenant struct {
	srv         *httptest.Server
	stsCalls    atomic.Int32
	signInCalls atomic.Int32
	stsBody     atomic.Value // string
	failSTS     atomic.Int32 // number of initial STS calls answered with 500
	stsResponse atomic.Value // string
	setCookies  atomic.Bool
}

func newFakeTenant(t *testing.T) *fakeTenant {
	t.Helper()

	f := &fakeTenant{}
	f.stsResponse.Store(tokenResponse)
	f.setCookies.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/extSTS.srf", func(w http.ResponseWriter, r *http.Request) {
		n := f.stsCalls.Add(1)

		b, _ := io.ReadAll(r.Body)
		f.stsBody.Store(string(b))

		assert.Equal(t, "text/xml; charset=utf-8", r.Header.Get("Content-Type"))

		if n <= f.failSTS.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		_, _ = io.WriteString(w, f.stsResponse.Load().(string))
	})
	mux.HandleFunc("/contoso/_forms/default.aspx", func(w http.ResponseWriter, r *http.Request) {
		f.signInCalls.Add(1)

		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, "t=EwBAAk6hBwAUT0K", string(b))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Accept"))
		assert.Equal(t, "wsignin1.0", r.URL.Query().Get("wa"))

		if f.setCookies.Load() {
			http.SetCookie(w, &http.Cookie{Name: "rtFa", Value: "rtfa-value", Path: "/"})
			http.SetCookie(w, &http.Cookie{Name: "FedAuth", Value: "fedauth-value", Path: "/"})
			http.SetCookie(w, &http.Cookie{Name: "other", Value: "x"})
		}

		http.Redirect(w, r, "/contoso/_layouts/Authenticate.aspx", http.StatusFound)
	})
	mux.HandleFunc("/contoso/_layouts/Authenticate.aspx", func(http.ResponseWriter, *http.Request) {
		t.Error("redirect must not be followed")
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeTenant) client(metrics *Metrics) *Client {
	c := NewClient(f.srv.Client(), Config{
		STSURL:          f.srv.URL + "/extSTS.srf",
		SignInURLFormat: f.srv.URL + "/%s/_forms/default.aspx?wa=wsignin1.0",
	}, nil, metrics)
	c.sleepFunc = noopSleep

	return c
}

func TestCookies_Success(t *testing.T) {
	f := newFakeTenant(t)

	cookies, err := f.client(nil).Cookies(context.Background(), "contoso", "alice@contoso.com", "p&ss<word>")
	require.NoError(t, err)

	assert.Equal(t, "rtfa-value", cookies.RtFa)
	assert.Equal(t, "fedauth-value", cookies.FedAuth)
	assert.Equal(t, "contoso.sharepoint.com", cookies.Host())
	assert.Equal(t, "rtFa=rtfa-value; FedAuth=fedauth-value", cookies.Header())

	body := f.stsBody.Load().(string)
	assert.Contains(t, body, "<o:Username>alice@contoso.com</o:Username>")
	assert.Contains(t, body, "<o:Password>p&amp;ss&lt;word&gt;</o:Password>")
	assert.Contains(t, body, "/contoso/_forms/default.aspx?wa=wsignin1.0</a:Address>")
}

func TestAuthToken_MissingTokenSkipsSignIn(t *testing.T) {
	f := newFakeTenant(t)
	f.stsResponse.Store(faultResponse)

	_, err := f.client(nil).AuthToken(context.Background(), "contoso", "alice", "pw")
	require.ErrorIs(t, err, ErrAuthToken)

	_, err = f.client(nil).Cookies(context.Background(), "contoso", "alice", "pw")
	require.ErrorIs(t, err, ErrAuthToken)

	assert.Equal(t, int32(0), f.signInCalls.Load(), "no sign-in POST without a token")
}

func TestAuthToken_EmptyAndMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty element", `<Envelope><BinarySecurityToken>  </BinarySecurityToken></Envelope>`},
		{"not xml", `<<<`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeTenant(t)
			f.stsResponse.Store(tt.body)

			_, err := f.client(nil).AuthToken(context.Background(), "contoso", "alice", "pw")
			assert.ErrorIs(t, err, ErrAuthToken)
		})
	}
}

func TestSubmitToken_MissingCookies(t *testing.T) {
	f := newFakeTenant(t)
	f.setCookies.Store(false)

	_, err := f.client(nil).Cookies(context.Background(), "contoso", "alice", "pw")
	require.ErrorIs(t, err, ErrMissingCookies)
}

func TestCookiesWithRetry_RecoversFromTransientFailures(t *testing.T) {
	f := newFakeTenant(t)
	f.failSTS.Store(2)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	c := f.client(metrics)

	var sleeps []time.Duration
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	cookies, err := c.CookiesWithRetry(context.Background(), "contoso", "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "fedauth-value", cookies.FedAuth)

	assert.Equal(t, int32(3), f.stsCalls.Load())
	assert.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay}, sleeps)
	assert.InDelta(t, 2, counterValue(t, metrics.AttemptsTotal.WithLabelValues("failure")), 0)
	assert.InDelta(t, 1, counterValue(t, metrics.AttemptsTotal.WithLabelValues("success")), 0)
}

func TestCookiesWithRetry_Exhausted(t *testing.T) {
	f := newFakeTenant(t)
	f.failSTS.Store(100)

	metrics := NewMetrics(nil)
	c := f.client(metrics)

	var sleeps int
	c.sleepFunc = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}

	_, err := c.CookiesWithRetry(context.Background(), "contoso", "alice", "pw")
	require.ErrorIs(t, err, ErrReauthenticationExhausted)
	assert.ErrorIs(t, err, ErrAuthToken, "last failure is wrapped")

	assert.Equal(t, int32(DefaultMaxAttempts), f.stsCalls.Load())
	assert.Equal(t, DefaultMaxAttempts-1, sleeps)
	assert.InDelta(t, 1, counterValue(t, metrics.ExhaustedTotal), 0)
}

func TestCookiesWithRetry_ContextCanceledDuringSleep(t *testing.T) {
	f := newFakeTenant(t)
	f.failSTS.Store(100)

	c := f.client(nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.CookiesWithRetry(ctx, "contoso", "alice", "pw")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrReauthenticationExhausted))
	assert.Equal(t, int32(1), f.stsCalls.Load())
}

func TestSecurityTokenRequest_Escapes(t *testing.T) {
	env := securityTokenRequest("https://t.sharepoint.com/_forms/default.aspx?wa=wsignin1.0&x=1", `"bob"`, `a'b`)

	assert.Contains(t, env, "<o:Username>&#34;bob&#34;</o:Username>")
	assert.Contains(t, env, "<o:Password>a&#39;b</o:Password>")
	assert.Contains(t, env, "wsignin1.0&amp;x=1")
	assert.False(t, strings.Contains(env, "{{"))
}

func TestConfig_Defaults(t *testing.T) {
	assert.Equal(t, "https://contoso.sharepoint.com/_forms/default.aspx?wa=wsignin1.0", Config{}.SignInURL("contoso"))

	c := Config{}.withDefaults()
	assert.Equal(t, DefaultSTSURL, c.STSURL)
	assert.Equal(t, 5, c.MaxAttempts)
	assert.Equal(t, 3*time.Second, c.RetryDelay)
}
