// Package router maps caller-supplied model identifiers onto concrete
// provider bindings, applying declaration-order fallback and BYOK key
// requirements.
package router

import (
	"strings"

	"github.com/omnidotdev/synapse/internal/apierror"
	"github.com/omnidotdev/synapse/internal/config"
	"github.com/omnidotdev/synapse/internal/provider"
	"github.com/omnidotdev/synapse/internal/secret"
)

// ResolvedModel is the outcome of routing: the client to call, the
// model name to send upstream, and the key to authenticate with (zero
// for config-owned keys).
type ResolvedModel struct {
	Client *provider.Client
	Model  string
	Key    secret.Secret
}

// RoutingError is returned when no binding can serve the request.
type RoutingError struct {
	kind    string
	message string
}

func (e *RoutingError) Error() string { return e.message }

// StatusCode implements apierror.HTTPError.
func (e *RoutingError) StatusCode() int {
	if e.kind == "all_providers_down" {
		return 503
	}
	return 400
}

// ErrorType implements apierror.HTTPError.
func (e *RoutingError) ErrorType() string {
	if e.kind == "all_providers_down" {
		return "provider_unavailable"
	}
	return "invalid_request_error"
}

// ClientMessage implements apierror.HTTPError.
func (e *RoutingError) ClientMessage() string { return e.message }

var _ apierror.HTTPError = (*RoutingError)(nil)

// errAllProvidersDown reports every candidate binding unhealthy.
func errAllProvidersDown(model string) *RoutingError {
	return &RoutingError{kind: "all_providers_down", message: "all providers are currently down for model " + model}
}

// errNoModelAvailable reports that no binding can serve the model.
func errNoModelAvailable(model string) *RoutingError {
	return &RoutingError{kind: "no_model_available", message: "no model available: " + model}
}

// ModelRouter resolves model strings against the configured bindings.
// It is constructed once at startup and immutable afterwards.
type ModelRouter struct {
	clients       map[string]*provider.Client
	order         []string
	defaultModels map[string]string
}

// New builds a router over the given clients. Declaration order is
// authoritative for fallback tie-breaks; no dynamic reordering.
func New(cfg *config.LLMConfig, clients map[string]*provider.Client) *ModelRouter {
	return &ModelRouter{
		clients:       clients,
		order:         cfg.ProviderOrder(),
		defaultModels: cfg.DefaultModels,
	}
}

// Resolve picks a binding for the model string. providerKeys carries
// the caller's BYOK secrets keyed by provider id; bindings whose keys
// are missing are skipped in declaration order.
func (r *ModelRouter) Resolve(model string, providerKeys map[string]secret.Secret) (*ResolvedModel, error) {
	hint, name := splitModel(model)

	if hint == "" {
		hint = r.defaultModels[name]
	}
	if hint == "" {
		return nil, errNoModelAvailable(model)
	}

	primary, ok := r.clients[hint]
	if !ok {
		return nil, errNoModelAvailable(model)
	}

	candidates := append([]*provider.Client{primary}, r.fallbacks(primary)...)

	var sawUnhealthy bool
	for _, c := range candidates {
		if !c.Health().Healthy() {
			sawUnhealthy = true
			continue
		}

		var key secret.Secret
		if c.BYOK() {
			k, ok := providerKeys[c.ID()]
			if !ok || k.IsZero() {
				continue
			}
			key = k
		}

		return &ResolvedModel{Client: c, Model: name, Key: key}, nil
	}

	if sawUnhealthy {
		return nil, errAllProvidersDown(model)
	}
	return nil, errNoModelAvailable(model)
}

// Candidates returns the resolved binding followed by its healthy
// fallbacks, for callers that retry across bindings themselves.
func (r *ModelRouter) Candidates(model string, providerKeys map[string]secret.Secret) ([]*ResolvedModel, error) {
	first, err := r.Resolve(model, providerKeys)
	if err != nil {
		return nil, err
	}

	resolved := []*ResolvedModel{first}
	_, name := splitModel(model)

	for _, c := range r.fallbacks(first.Client) {
		if c == first.Client || !c.Health().Healthy() {
			continue
		}
		var key secret.Secret
		if c.BYOK() {
			k, ok := providerKeys[c.ID()]
			if !ok || k.IsZero() {
				continue
			}
			key = k
		}
		resolved = append(resolved, &ResolvedModel{Client: c, Model: name, Key: key})
	}

	return resolved, nil
}

// fallbacks returns the client's configured siblings in declared order.
func (r *ModelRouter) fallbacks(c *provider.Client) []*provider.Client {
	var out []*provider.Client
	for _, id := range c.Fallback() {
		if sibling, ok := r.clients[id]; ok {
			out = append(out, sibling)
		}
	}
	return out
}

// splitModel separates a "provider/model" identifier. A bare model
// has an empty hint.
func splitModel(model string) (hint, name string) {
	if i := strings.Index(model, "/"); i >= 0 {
		return model[:i], model[i+1:]
	}
	return "", model
}
