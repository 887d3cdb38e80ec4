package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/omnidotdev/synapse/internal/apierror"
	"github.com/omnidotdev/synapse/internal/config"
)

// JWTValidator validates OAuth2 bearer tokens against a JWKS endpoint
// polled in the background.
type JWTValidator struct {
	jwksURL  string
	issuer   string
	audience []string
	interval time.Duration
	httpc    *http.Client
	logger   zerolog.Logger

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// NewJWTValidator builds a validator from configuration. Call Run to
// start the JWKS poll loop.
func NewJWTValidator(cfg *config.OAuthConfig, httpc *http.Client, logger zerolog.Logger) *JWTValidator {
	return &JWTValidator{
		jwksURL:  cfg.JWKSURL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		interval: cfg.PollEvery().Std(),
		httpc:    httpc,
		logger:   logger,
		keys:     make(map[string]*rsa.PublicKey),
	}
}

// LooksLikeJWT reports whether a bearer token should take the JWT
// path: three dot-separated base64url segments.
func LooksLikeJWT(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := base64.RawURLEncoding.DecodeString(p); err != nil {
			return false
		}
	}
	return true
}

// Validate checks the token signature and registered claims and
// returns the resulting Authentication.
func (v *JWTValidator) Validate(tokenString string) (*Authentication, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	for _, aud := range v.audience {
		opts = append(opts, jwt.WithAudience(aud))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc, opts...)
	if err != nil || !token.Valid {
		return nil, apierror.Unauthorized("invalid bearer token")
	}

	authn := &Authentication{Method: MethodJWT, Claims: claims}
	if sub, err := claims.GetSubject(); err == nil {
		authn.Principal = sub
	}
	if kid, ok := token.Header["kid"].(string); ok {
		authn.KeyID = kid
	}
	return authn, nil
}

func (v *JWTValidator) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)

	v.mu.RLock()
	defer v.mu.RUnlock()

	if kid != "" {
		if key, ok := v.keys[kid]; ok {
			return key, nil
		}
		return nil, fmt.Errorf("no JWKS key with kid %q", kid)
	}

	// Without a kid, a single-key JWKS is unambiguous.
	if len(v.keys) == 1 {
		for _, key := range v.keys {
			return key, nil
		}
	}
	return nil, fmt.Errorf("token has no kid and JWKS has %d keys", len(v.keys))
}

// Run polls the JWKS endpoint until ctx is cancelled.
func (v *JWTValidator) Run(ctx context.Context) {
	v.refresh(ctx)

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.refresh(ctx)
		}
	}
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *JWTValidator) refresh(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		v.logger.Error().Err(err).Msg("build JWKS request")
		return
	}

	resp, err := v.httpc.Do(req)
	if err != nil {
		v.logger.Warn().Err(err).Msg("JWKS fetch failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.logger.Warn().Int("status", resp.StatusCode).Msg("JWKS fetch failed")
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		v.logger.Warn().Err(err).Msg("JWKS read failed")
		return
	}

	var doc jwksDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		v.logger.Warn().Err(err).Msg("JWKS parse failed")
		return
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		key, err := rsaKey(k.N, k.E)
		if err != nil {
			v.logger.Warn().Err(err).Str("kid", k.Kid).Msg("skipping JWKS key")
			continue
		}
		keys[k.Kid] = key
	}

	v.mu.Lock()
	v.keys = keys
	v.mu.Unlock()

	v.logger.Debug().Int("keys", len(keys)).Msg("JWKS refreshed")
}

func rsaKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("zero exponent")
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
