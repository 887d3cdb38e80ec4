package config

import "github.com/omnidotdev/synapse/internal/secret"

// AuthConfig drives opaque API-key resolution against the key API.
type AuthConfig struct {
	Enabled         bool          `toml:"enabled"`
	APIURL          string        `toml:"api_url"`
	GatewaySecret   secret.Secret `toml:"gateway_secret"`
	CacheTTLSeconds int           `toml:"cache_ttl_seconds"`
	CacheCapacity   int           `toml:"cache_capacity"`
	PublicPaths     []string      `toml:"public_paths"`
}

// TTLSeconds defaults to 30.
func (a *AuthConfig) TTLSeconds() int {
	if a.CacheTTLSeconds <= 0 {
		return 30
	}
	return a.CacheTTLSeconds
}

// Capacity defaults to 10000 cached resolutions.
func (a *AuthConfig) Capacity() int {
	if a.CacheCapacity <= 0 {
		return 10_000
	}
	return a.CacheCapacity
}

// Public reports whether a path skips authentication.
func (a *AuthConfig) Public(path string) bool {
	paths := a.PublicPaths
	if len(paths) == 0 {
		paths = []string{"/health"}
	}
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}

// RateLimitStorage selects the limiter backend.
type RateLimitStorage string

const (
	RateLimitMemory RateLimitStorage = "memory"
	RateLimitRedis  RateLimitStorage = "redis"
)

// RateLimitConfig configures global and per-IP limits.
type RateLimitConfig struct {
	Storage  RateLimitStorage  `toml:"storage"`
	RedisURL string            `toml:"redis_url"`
	Global   *RateLimitBucket  `toml:"global"`
	PerIP    *RateLimitBucket  `toml:"per_ip"`
}

// RateLimitBucket is one limit scope.
type RateLimitBucket struct {
	MaxRequests int      `toml:"max_requests"`
	Window      Duration `toml:"window"`
}

func (c *RateLimitConfig) validate() error {
	switch c.Storage {
	case RateLimitMemory, RateLimitRedis, "":
	default:
		return errUnknownStorage(string(c.Storage))
	}
	return nil
}

type errUnknownStorage string

func (e errUnknownStorage) Error() string {
	return "unknown rate limit storage: " + string(e)
}

// Backend defaults to memory.
func (c *RateLimitConfig) Backend() RateLimitStorage {
	if c.Storage == "" {
		return RateLimitMemory
	}
	return c.Storage
}

// ModalityConfig is a thin passthrough binding for embeddings, STT,
// TTS, and image generation.
type ModalityConfig struct {
	Providers map[string]ModalityProviderConfig `toml:"providers"`
}

// Configured reports whether any provider exists for the modality.
func (m ModalityConfig) Configured() bool {
	return len(m.Providers) > 0
}

// First returns an arbitrary configured provider; modalities support a
// single upstream today.
func (m ModalityConfig) First() (string, ModalityProviderConfig, bool) {
	for name, p := range m.Providers {
		return name, p, true
	}
	return "", ModalityProviderConfig{}, false
}

// ModalityProviderConfig is the upstream for a passthrough modality.
type ModalityProviderConfig struct {
	BaseURL string        `toml:"base_url"`
	APIKey  secret.Secret `toml:"api_key"`
	Model   string        `toml:"model"`
}

// TelemetryConfig names the trace exporter wiring, owned by an external
// collaborator; only its shape is validated here.
type TelemetryConfig struct {
	ServiceName  string `toml:"service_name"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// ProxyConfig enables raw passthrough endpoints.
type ProxyConfig struct {
	Anthropic *AnthropicProxyConfig `toml:"anthropic"`
}

// AnthropicProxyConfig exposes /anthropic/v1/messages.
type AnthropicProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Prefix defaults to /anthropic.
func (a *AnthropicProxyConfig) Prefix() string {
	if a.Path == "" {
		return "/anthropic"
	}
	return a.Path
}

// BillingConfig configures usage metering.
type BillingConfig struct {
	Enabled bool `toml:"enabled"`
}
