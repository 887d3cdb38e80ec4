package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[server]
listen_address = "127.0.0.1:9090"

[server.health]
enabled = true

[server.csrf]
header_name = "X-Synapse-CSRF-Protection"

[server.rate_limit]
storage = "memory"

[server.rate_limit.per_ip]
max_requests = 2
window = "1m"

[llm]
max_tokens_default = 2048

[llm.providers.openai]
type = "openai"
base_url = "https://api.openai.com/v1"
api_key = "sk-test"
fallback = ["anthropic"]

[llm.providers.anthropic]
type = "anthropic"
base_url = "https://api.anthropic.com"
api_key = "sk-ant-test"

[llm.providers.google]
type = "google"
base_url = "https://generativelanguage.googleapis.com/v1beta"
byok = true

[llm.default_models]
"gpt-4o" = "openai"

[mcp]
enabled = true

[mcp.cache]
max_connections = 8
ttl = 120

[mcp.servers.search]
type = "streamable_http"
url = "http://localhost:9200/mcp"
allow = ["web_search"]
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddress())
	assert.True(t, cfg.Server.Health.IsEnabled())
	assert.Equal(t, "X-Synapse-CSRF-Protection", cfg.Server.CSRF.Header())
	assert.Equal(t, 2048, cfg.LLM.MaxTokensFallback())

	openai, ok := cfg.LLM.Provider("openai")
	require.True(t, ok)
	assert.Equal(t, ProtocolOpenAI, openai.Type)
	assert.Equal(t, "sk-test", openai.APIKey.Expose())
	assert.Equal(t, []string{"anthropic"}, openai.Fallback)

	google, ok := cfg.LLM.Provider("google")
	require.True(t, ok)
	assert.True(t, google.BYOK)

	require.NotNil(t, cfg.Server.RateLimit)
	assert.Equal(t, RateLimitMemory, cfg.Server.RateLimit.Backend())
	assert.Equal(t, 2, cfg.Server.RateLimit.PerIP.MaxRequests)
	assert.Equal(t, time.Minute, cfg.Server.RateLimit.PerIP.Window.Std())

	assert.Equal(t, 8, cfg.MCP.Cache.Cap())
	assert.True(t, cfg.MCP.Servers["search"].HasRules())
}

func TestParse_ProviderOrderPreserved(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	require.NoError(t, err)
	assert.Equal(t, []string{"openai", "anthropic", "google"}, cfg.LLM.ProviderOrder())
}

func TestParse_UnknownKeysRejected(t *testing.T) {
	_, err := Parse(`
[server]
listen_address = "127.0.0.1:9090"
not_a_real_key = true
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration keys")
	assert.Contains(t, err.Error(), "not_a_real_key")
}

func TestParse_MissingProviderType(t *testing.T) {
	_, err := Parse(`
[llm.providers.foo]
base_url = "https://example.com"
api_key = "k"
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing type")
}

func TestParse_ByokAllowsMissingKey(t *testing.T) {
	cfg, err := Parse(`
[llm.providers.foo]
type = "openai"
base_url = "https://example.com"
byok = true
`)
	require.NoError(t, err)
	p, _ := cfg.LLM.Provider("foo")
	assert.True(t, p.APIKey.IsZero())
}

func TestParse_UnknownFallbackRejected(t *testing.T) {
	_, err := Parse(`
[llm.providers.foo]
type = "openai"
base_url = "https://example.com"
api_key = "k"
fallback = ["ghost"]
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fallback provider")
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddress())
	assert.True(t, cfg.Server.Health.IsEnabled())
	assert.Equal(t, "/health", cfg.Server.Health.EndpointPath())
	assert.False(t, cfg.STT.Configured())
	assert.Equal(t, 4096, cfg.LLM.MaxTokensFallback())
}

func TestDuration_Invalid(t *testing.T) {
	var d Duration
	err := d.UnmarshalText([]byte("not-a-duration"))
	require.Error(t, err)
}

func TestHealth_Disabled(t *testing.T) {
	cfg, err := Parse(`
[server.health]
enabled = false
`)
	require.NoError(t, err)
	assert.False(t, cfg.Server.Health.IsEnabled())
}
