package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/omnidotdev/synapse/internal/apierror"
	"github.com/omnidotdev/synapse/internal/auth"
	"github.com/omnidotdev/synapse/internal/config"
	"github.com/omnidotdev/synapse/internal/secret"
)

const (
	authnKey contextKey = iota + 10
	billingKey
	resolvedKeyKey
	rawKeyKey
	identityKey
)

// Authenticate validates the inbound bearer. A token that parses as a
// JWT takes the JWT path; anything else is an opaque API key resolved
// remotely. Both attach Authentication (and, for API keys, the
// resolved BYOK record) before the request-context middleware runs.
// Either validator may be nil when that path is not configured.
func Authenticate(cfg *config.AuthConfig, resolver *auth.APIKeyResolver, jwtValidator *auth.JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil && jwtValidator == nil {
				next.ServeHTTP(w, r)
				return
			}
			if cfg != nil && cfg.Public(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				apierror.Write(w, apierror.Unauthorized("missing bearer token"))
				return
			}

			ctx := r.Context()

			if jwtValidator != nil && auth.LooksLikeJWT(token) {
				authn, err := jwtValidator.Validate(token)
				if err != nil {
					apierror.Write(w, err)
					return
				}
				ctx = context.WithValue(ctx, authnKey, authn)
				ctx = withBilling(ctx, authn.Principal)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if resolver == nil {
				apierror.Write(w, apierror.Unauthorized("invalid bearer token"))
				return
			}

			resolved, err := resolver.Resolve(ctx, token)
			if err != nil {
				apierror.Write(w, err)
				return
			}

			authn := &auth.Authentication{
				Method:    auth.MethodAPIKey,
				Principal: resolved.Principal,
				KeyID:     resolved.KeyID,
			}
			ctx = context.WithValue(ctx, authnKey, authn)
			ctx = context.WithValue(ctx, resolvedKeyKey, resolved)
			ctx = context.WithValue(ctx, rawKeyKey, secret.New(token))
			ctx = withBilling(ctx, resolved.Principal)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withBilling(ctx context.Context, principal string) context.Context {
	if principal == "" {
		return ctx
	}
	return context.WithValue(ctx, billingKey, &auth.BillingIdentity{CustomerID: principal})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// IdentifyClient extracts the client id and group from the configured
// headers, rejecting groups outside the allow list.
func IdentifyClient(cfg *config.ClientIdentificationConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := ClientIdentity{}

			if cfg.ClientIDHeader != "" {
				identity.ClientID = r.Header.Get(cfg.ClientIDHeader)
			}
			if cfg.GroupHeader != "" {
				identity.Group = r.Header.Get(cfg.GroupHeader)
				if identity.Group != "" && len(cfg.AllowedGroups) > 0 {
					allowed := false
					for _, g := range cfg.AllowedGroups {
						if g == identity.Group {
							allowed = true
							break
						}
					}
					if !allowed {
						apierror.Write(w, apierror.Forbidden("client group %q not allowed", identity.Group))
						return
					}
				}
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
