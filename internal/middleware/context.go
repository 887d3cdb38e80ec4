// Package middleware carries the cross-cutting request plumbing:
// client-IP extraction, rate limiting, CSRF, authentication, and the
// per-request context handed to handlers.
package middleware

import (
	"context"
	"net/http"

	"github.com/omnidotdev/synapse/internal/auth"
	"github.com/omnidotdev/synapse/internal/secret"
)

type contextKey int

const (
	requestContextKey contextKey = iota
	clientIPKey
)

// ClientIdentity is the stable client id and group extracted per the
// client_identification config.
type ClientIdentity struct {
	ClientID string
	Group    string
}

// RequestContext is built once per inbound request and never shared
// across requests. It carries everything the handlers need beyond the
// HTTP parts themselves.
type RequestContext struct {
	APIKey         secret.Secret
	ClientIdentity ClientIdentity
	Authentication auth.Authentication
	Billing        *auth.BillingIdentity
	ProviderKeys   map[string]secret.Secret
	ClientIP       string
}

// ContextFrom returns the request context, or an empty one for
// requests that bypassed the context middleware.
func ContextFrom(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return rc
	}
	return &RequestContext{}
}

// WithRequestContext stores a prepared context; exposed for tests.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextMiddleware assembles the RequestContext from values
// the earlier middleware attached to the request.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := &RequestContext{
			ClientIP: ClientIPFrom(r.Context()),
		}

		if authn, ok := r.Context().Value(authnKey).(*auth.Authentication); ok {
			rc.Authentication = *authn
		}
		if billing, ok := r.Context().Value(billingKey).(*auth.BillingIdentity); ok {
			rc.Billing = billing
		}
		if resolved, ok := r.Context().Value(resolvedKeyKey).(*auth.ResolvedKey); ok {
			rc.ProviderKeys = resolved.ProviderKeyMap()
		}
		if key, ok := r.Context().Value(rawKeyKey).(secret.Secret); ok {
			rc.APIKey = key
		}
		if id, ok := r.Context().Value(identityKey).(ClientIdentity); ok {
			rc.ClientIdentity = id
		}

		next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
	})
}
