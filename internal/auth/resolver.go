package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/omnidotdev/synapse/internal/apierror"
	"github.com/omnidotdev/synapse/internal/config"
	"github.com/omnidotdev/synapse/internal/secret"
)

// APIKeyResolver resolves opaque bearer keys against the remote key
// API and caches successful resolutions. The cache is keyed by the
// SHA-256 of the raw key so the key itself never sits in memory as a
// map key.
type APIKeyResolver struct {
	apiURL        string
	gatewaySecret secret.Secret
	httpc         *http.Client
	cache         *expirable.LRU[string, *ResolvedKey]
	now           func() time.Time
	logger        zerolog.Logger
}

// NewResolver builds a resolver from configuration.
func NewResolver(cfg *config.AuthConfig, httpc *http.Client, logger zerolog.Logger) *APIKeyResolver {
	ttl := time.Duration(cfg.TTLSeconds()) * time.Second
	return &APIKeyResolver{
		apiURL:        strings.TrimSuffix(cfg.APIURL, "/"),
		gatewaySecret: cfg.GatewaySecret,
		httpc:         httpc,
		cache:         expirable.NewLRU[string, *ResolvedKey](cfg.Capacity(), nil, ttl),
		now:           time.Now,
		logger:        logger,
	}
}

// GatewaySecret returns the shared secret gating internal endpoints.
func (r *APIKeyResolver) GatewaySecret() secret.Secret { return r.gatewaySecret }

// Resolve returns the record for an inbound API key, consulting the
// cache first. An entry past its own expiry is removed before it can
// be observed.
func (r *APIKeyResolver) Resolve(ctx context.Context, rawKey string) (*ResolvedKey, error) {
	ck := cacheKey(rawKey)

	if cached, ok := r.cache.Get(ck); ok {
		if cached.Expired(r.now()) {
			r.cache.Remove(ck)
		} else {
			return cached, nil
		}
	}

	resolved, err := r.fetch(ctx, rawKey)
	if err != nil {
		return nil, err
	}

	r.cache.Add(ck, resolved)
	return resolved, nil
}

// Invalidate drops a cached resolution; the next Resolve for the key
// performs a remote call.
func (r *APIKeyResolver) Invalidate(rawKey string) {
	r.cache.Remove(cacheKey(rawKey))
}

type resolveRequest struct {
	Key string `json:"key"`
}

type resolveResponse struct {
	KeyID        string `json:"key_id"`
	Principal    string `json:"principal"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	ProviderKeys []struct {
		Provider     string `json:"provider"`
		DecryptedKey string `json:"decrypted_key"`
	} `json:"provider_keys,omitempty"`
}

func (r *APIKeyResolver) fetch(ctx context.Context, rawKey string) (*ResolvedKey, error) {
	body, err := json.Marshal(resolveRequest{Key: rawKey})
	if err != nil {
		return nil, apierror.Internal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiURL+"/v1/keys/resolve", bytes.NewReader(body))
	if err != nil {
		return nil, apierror.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Secret", r.gatewaySecret.Expose())

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, apierror.ProviderUnavailable("key resolution unavailable").Wrap(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, apierror.Unauthorized("invalid API key")
	default:
		r.logger.Warn().Int("status", resp.StatusCode).Msg("key resolution failed")
		return nil, apierror.ProviderUnavailable("key resolution unavailable")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apierror.ProviderUnavailable("key resolution unavailable").Wrap(err)
	}

	var wire resolveResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, apierror.ProviderUnavailable("key resolution unavailable").Wrap(err)
	}

	resolved := &ResolvedKey{
		KeyID:     wire.KeyID,
		Principal: wire.Principal,
	}
	if wire.ExpiresAt > 0 {
		resolved.Expiry = time.Unix(wire.ExpiresAt, 0)
	}
	for _, pk := range wire.ProviderKeys {
		resolved.ProviderKeys = append(resolved.ProviderKeys, ProviderKey{
			Provider: pk.Provider,
			Key:      secret.New(pk.DecryptedKey),
		})
	}

	if resolved.Expired(r.now()) {
		return nil, apierror.Unauthorized("API key expired")
	}

	return resolved, nil
}

func cacheKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
