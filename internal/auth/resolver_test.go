package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidotdev/synapse/internal/config"
	"github.com/omnidotdev/synapse/internal/secret"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) (*APIKeyResolver, *int64) {
	t.Helper()

	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.AuthConfig{
		Enabled:       true,
		APIURL:        srv.URL,
		GatewaySecret: secret.New("gw-secret"),
	}
	return NewResolver(cfg, srv.Client(), zerolog.Nop()), &calls
}

func okResolution(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"key_id":    "key-1",
		"principal": "acct_42",
		"provider_keys": []map[string]string{
			{"provider": "openai", "decrypted_key": "sk-byok"},
		},
	})
}

func TestResolver_CachesResolutions(t *testing.T) {
	resolver, calls := newTestResolver(t, okResolution)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "raw-key")
	require.NoError(t, err)
	assert.Equal(t, "acct_42", first.Principal)

	second, err := resolver.Resolve(ctx, "raw-key")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, *calls)

	key, ok := first.KeyFor("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-byok", key.Expose())
}

func TestResolver_InvalidateForcesRemoteCall(t *testing.T) {
	resolver, calls := newTestResolver(t, okResolution)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "raw-key")
	require.NoError(t, err)

	resolver.Invalidate("raw-key")

	_, err = resolver.Resolve(ctx, "raw-key")
	require.NoError(t, err)
	assert.EqualValues(t, 2, *calls)
}

func TestResolver_SendsGatewaySecret(t *testing.T) {
	var gotSecret string
	resolver, _ := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Gateway-Secret")
		okResolution(w, r)
	})

	_, err := resolver.Resolve(context.Background(), "raw-key")
	require.NoError(t, err)
	assert.Equal(t, "gw-secret", gotSecret)
}

func TestResolver_ExpiredEntryNeverReturned(t *testing.T) {
	resolver, calls := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"key_id":     "key-1",
			"principal":  "acct_42",
			"expires_at": time.Now().Add(time.Hour).Unix(),
		})
	})
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "raw-key")
	require.NoError(t, err)

	// Move the clock past the record's expiry; the stale entry must be
	// removed and re-fetched, never observed.
	resolver.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = resolver.Resolve(ctx, "raw-key")
	require.Error(t, err)
	assert.EqualValues(t, 2, *calls)
}

func TestResolver_UnknownKeyUnauthorized(t *testing.T) {
	resolver, _ := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := resolver.Resolve(context.Background(), "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid API key")
}

func TestLooksLikeJWT(t *testing.T) {
	assert.True(t, LooksLikeJWT("eyJhbGciOiJSUzI1NiJ9.eyJzdWIiOiJ4In0.c2ln"))
	assert.False(t, LooksLikeJWT("sk-opaque-key"))
	assert.False(t, LooksLikeJWT("a.b"))
	assert.False(t, LooksLikeJWT("..."))
}
