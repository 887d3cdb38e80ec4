package config

import (
	"fmt"

	"github.com/omnidotdev/synapse/internal/secret"
)

// Protocol is the wire format a provider speaks.
type Protocol string

const (
	ProtocolOpenAI    Protocol = "openai"
	ProtocolAnthropic Protocol = "anthropic"
	ProtocolGoogle    Protocol = "google"
)

// LLMConfig configures providers and routing.
type LLMConfig struct {
	// MaxTokensDefault is supplied when a caller omits max_tokens and
	// the destination protocol requires it (Anthropic).
	MaxTokensDefault int `toml:"max_tokens_default"`

	// Providers maps provider id to its binding. Declaration order is
	// preserved and is the router's fallback order.
	Providers map[string]ProviderConfig `toml:"providers"`

	// DefaultModels maps a bare model name to the provider that should
	// serve it when the caller gives no provider hint.
	DefaultModels map[string]string `toml:"default_models"`

	// DiscoveryTTL bounds how long cached model listings are served.
	DiscoveryTTL Duration `toml:"discovery_ttl"`

	providerOrder []string
}

// ProviderConfig is one upstream binding.
type ProviderConfig struct {
	Type    Protocol      `toml:"type"`
	BaseURL string        `toml:"base_url"`
	APIKey  secret.Secret `toml:"api_key"`

	// BYOK requires the caller to supply the upstream key via their
	// resolved API-key record instead of config.
	BYOK bool `toml:"byok"`

	// Fallback lists sibling provider ids tried, in order, when this
	// provider is unhealthy.
	Fallback []string `toml:"fallback"`

	// ModelAliases renames caller-visible model names to upstream ones.
	ModelAliases map[string]string `toml:"model_aliases"`

	// Models optionally pins the model list when discovery is not
	// supported upstream.
	Models []string `toml:"models"`
}

// ProviderOrder returns provider ids in declaration order.
func (c *LLMConfig) ProviderOrder() []string {
	return c.providerOrder
}

// Provider looks up a provider by id.
func (c *LLMConfig) Provider(id string) (ProviderConfig, bool) {
	p, ok := c.Providers[id]
	return p, ok
}

// MaxTokensFallback defaults to 4096.
func (c *LLMConfig) MaxTokensFallback() int {
	if c.MaxTokensDefault == 0 {
		return 4096
	}
	return c.MaxTokensDefault
}

func (c *LLMConfig) validate() error {
	for id, p := range c.Providers {
		switch p.Type {
		case ProtocolOpenAI, ProtocolAnthropic, ProtocolGoogle:
		case "":
			return fmt.Errorf("provider %q: missing type", id)
		default:
			return fmt.Errorf("provider %q: unknown type %q", id, p.Type)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: missing base_url", id)
		}
		if p.APIKey.IsZero() && !p.BYOK {
			return fmt.Errorf("provider %q: needs api_key or byok = true", id)
		}
		for _, fb := range p.Fallback {
			if _, ok := c.Providers[fb]; !ok {
				return fmt.Errorf("provider %q: unknown fallback provider %q", id, fb)
			}
		}
	}
	for model, provider := range c.DefaultModels {
		if _, ok := c.Providers[provider]; !ok {
			return fmt.Errorf("default_models[%q]: unknown provider %q", model, provider)
		}
	}
	return nil
}
