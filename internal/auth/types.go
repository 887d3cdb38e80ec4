// Package auth resolves inbound credentials: opaque API keys against
// the key-management API, and JWT bearers against a polled JWKS. The
// two paths are mutually exclusive per request.
package auth

import (
	"time"

	"github.com/omnidotdev/synapse/internal/secret"
)

// Method records which credential path authenticated the request.
type Method string

const (
	MethodNone   Method = "none"
	MethodAPIKey Method = "api_key"
	MethodJWT    Method = "jwt"
)

// Authentication is the outcome of credential validation, attached to
// the request context for downstream handlers.
type Authentication struct {
	Method    Method
	Principal string
	KeyID     string
	Claims    map[string]any
}

// BillingIdentity names who pays for the request.
type BillingIdentity struct {
	CustomerID string
	Plan       string
}

// ProviderKey is one decrypted BYOK credential from a resolved key.
type ProviderKey struct {
	Provider string
	Key      secret.Secret
}

// ResolvedKey is a cached resolution of an opaque API key. It is
// shared between the cache and in-flight requests; treat as read-only.
type ResolvedKey struct {
	KeyID        string
	Principal    string
	Expiry       time.Time
	ProviderKeys []ProviderKey
}

// Expired reports whether the resolution must not be served.
func (r *ResolvedKey) Expired(now time.Time) bool {
	return !r.Expiry.IsZero() && r.Expiry.Before(now)
}

// KeyFor returns the BYOK secret for a provider id.
func (r *ResolvedKey) KeyFor(provider string) (secret.Secret, bool) {
	for _, pk := range r.ProviderKeys {
		if pk.Provider == provider {
			return pk.Key, true
		}
	}
	return secret.Secret{}, false
}

// ProviderKeyMap converts the key list to the router's map form.
func (r *ResolvedKey) ProviderKeyMap() map[string]secret.Secret {
	if len(r.ProviderKeys) == 0 {
		return nil
	}
	m := make(map[string]secret.Secret, len(r.ProviderKeys))
	for _, pk := range r.ProviderKeys {
		m[pk.Provider] = pk.Key
	}
	return m
}
