package handlers

import (
	"net/http"

	"github.com/omnidotdev/synapse/internal/config"
)

// ProtectedResourceMetadata serves the RFC 9728 document at
// /.well-known/oauth-protected-resource.
func ProtectedResourceMetadata(cfg *config.ProtectedResourceConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		doc := map[string]any{
			"resource": cfg.Resource,
		}
		if len(cfg.AuthorizationServers) > 0 {
			doc["authorization_servers"] = cfg.AuthorizationServers
		}
		if len(cfg.ScopesSupported) > 0 {
			doc["scopes_supported"] = cfg.ScopesSupported
		}
		if len(cfg.BearerMethodsSupported) > 0 {
			doc["bearer_methods_supported"] = cfg.BearerMethodsSupported
		}
		writeJSON(w, http.StatusOK, doc)
	}
}
