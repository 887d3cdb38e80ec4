package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidotdev/synapse/internal/config"
	"github.com/omnidotdev/synapse/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestCSRF_BlocksMutatingWithoutHeader(t *testing.T) {
	cfg := &config.CSRFConfig{}
	handler := CSRF(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, len(rec.Body.String()) > 0)
	assert.Contains(t, rec.Body.String(), "missing CSRF header: X-Synapse-CSRF-Protection")
}

func TestCSRF_AllowsSafeMethods(t *testing.T) {
	handler := CSRF(&config.CSRFConfig{})(okHandler())

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		req := httptest.NewRequest(method, "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, method)
	}
}

func TestCSRF_HeaderPresencePasses(t *testing.T) {
	handler := CSRF(&config.CSRFConfig{HeaderName: "X-CSRF"})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("X-CSRF", "anything-at-all")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP_HeaderPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		forward  string
		realIP   string
		remote   string
		expected string
	}{
		{"x-forwarded-for first hop", "1.2.3.4, 10.0.0.1", "", "9.9.9.9:1234", "1.2.3.4"},
		{"x-real-ip fallback", "", "5.6.7.8", "9.9.9.9:1234", "5.6.7.8"},
		{"peer address fallback", "", "", "9.9.9.9:1234", "9.9.9.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIPFrom(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forward != "" {
				req.Header.Set("X-Forwarded-For", tt.forward)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			ClientIP(nil)(inner).ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestClientIP_TrustedHops(t *testing.T) {
	var got string
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = ClientIPFrom(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1, 10.0.0.2")
	req.RemoteAddr = "10.0.0.3:999"

	ClientIP(&config.ClientIPConfig{TrustedHops: 2})(inner).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "1.2.3.4", got)
}

func TestRateLimit_PerIP(t *testing.T) {
	cfg, err := config.Parse(`
[server.rate_limit]
storage = "memory"

[server.rate_limit.per_ip]
max_requests = 2
window = "1m"
`)
	require.NoError(t, err)

	limiter, err := ratelimit.New(cfg.Server.RateLimit)
	require.NoError(t, err)

	handler := ClientIP(nil)(RateLimit(limiter)(okHandler()))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("1.2.3.4").Code)
	assert.Equal(t, http.StatusOK, do("1.2.3.4").Code)

	third := do("1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))
	assert.Contains(t, third.Body.String(), `"type":"rate_limited"`)

	// Other IPs are unaffected.
	assert.Equal(t, http.StatusOK, do("4.3.2.1").Code)
}

func TestRequestContext_Defaults(t *testing.T) {
	var rc *RequestContext
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		rc = ContextFrom(r.Context())
	})

	handler := ClientIP(nil)(RequestContextMiddleware(inner))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "7.7.7.7:1"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, rc)
	assert.Equal(t, "7.7.7.7", rc.ClientIP)
	assert.Empty(t, rc.Authentication.Principal)
	assert.Nil(t, rc.ProviderKeys)
}
