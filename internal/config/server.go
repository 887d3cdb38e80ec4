package config

import "fmt"

// ServerConfig groups the HTTP-surface settings.
type ServerConfig struct {
	ListenAddress        string                      `toml:"listen_address"`
	Health               HealthConfig                `toml:"health"`
	CORS                 *CORSConfig                 `toml:"cors"`
	CSRF                 *CSRFConfig                 `toml:"csrf"`
	OAuth                *OAuthConfig                `toml:"oauth"`
	Auth                 *AuthConfig                 `toml:"auth"`
	RateLimit            *RateLimitConfig            `toml:"rate_limit"`
	ClientIP             *ClientIPConfig             `toml:"client_ip"`
	ClientIdentification *ClientIdentificationConfig `toml:"client_identification"`
	ShutdownGrace        Duration                    `toml:"shutdown_grace"`
}

func (c *ServerConfig) validate() error {
	if err := validateListenAddress(c.ListenAddress); err != nil {
		return err
	}
	if c.RateLimit != nil {
		if err := c.RateLimit.validate(); err != nil {
			return fmt.Errorf("rate_limit: %w", err)
		}
	}
	return nil
}

// HealthConfig controls the /health endpoint.
type HealthConfig struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

// IsEnabled defaults to true when unset.
func (h HealthConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// EndpointPath defaults to /health.
func (h HealthConfig) EndpointPath() string {
	if h.Path == "" {
		return "/health"
	}
	return h.Path
}

// CORSConfig mirrors the go-chi/cors options we expose.
type CORSConfig struct {
	AllowOrigins     []string `toml:"allow_origins"`
	AllowMethods     []string `toml:"allow_methods"`
	AllowHeaders     []string `toml:"allow_headers"`
	ExposeHeaders    []string `toml:"expose_headers"`
	AllowCredentials bool     `toml:"allow_credentials"`
	MaxAge           int      `toml:"max_age"`
}

// CSRFConfig requires a header on mutating requests.
type CSRFConfig struct {
	Enabled    *bool  `toml:"enabled"`
	HeaderName string `toml:"header_name"`
}

// IsEnabled defaults to true when the table is present.
func (c *CSRFConfig) IsEnabled() bool {
	return c != nil && (c.Enabled == nil || *c.Enabled)
}

// Header returns the configured header name or the default.
func (c *CSRFConfig) Header() string {
	if c == nil || c.HeaderName == "" {
		return "X-Synapse-CSRF-Protection"
	}
	return c.HeaderName
}

// OAuthConfig drives the JWT validation path.
type OAuthConfig struct {
	JWKSURL           string                   `toml:"jwks_url"`
	PollInterval      Duration                 `toml:"poll_interval"`
	Issuer            string                   `toml:"issuer"`
	Audience          []string                 `toml:"audience"`
	ProtectedResource *ProtectedResourceConfig `toml:"protected_resource"`
}

// PollEvery defaults to five minutes.
func (o *OAuthConfig) PollEvery() Duration {
	if o.PollInterval == 0 {
		return Duration(300e9)
	}
	return o.PollInterval
}

// ProtectedResourceConfig is the RFC 9728 metadata document.
type ProtectedResourceConfig struct {
	Resource               string   `toml:"resource"`
	AuthorizationServers   []string `toml:"authorization_servers"`
	ScopesSupported        []string `toml:"scopes_supported"`
	BearerMethodsSupported []string `toml:"bearer_methods_supported"`
}

// ClientIPConfig controls client IP extraction.
type ClientIPConfig struct {
	// TrustedHops is the number of trusted proxies in front of the
	// gateway when reading X-Forwarded-For.
	TrustedHops int `toml:"trusted_hops"`
}

// ClientIdentificationConfig extracts a stable client id per request.
type ClientIdentificationConfig struct {
	ClientIDHeader string `toml:"client_id_header"`
	GroupHeader    string `toml:"group_header"`
	AllowedGroups  []string `toml:"allowed_groups"`
}
