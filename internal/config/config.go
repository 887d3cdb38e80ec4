// Package config loads the synapse.toml configuration file. Unknown
// keys are a startup error, and provider tables keep their declaration
// order because the router's fallback order depends on it.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	LLM        LLMConfig        `toml:"llm"`
	MCP        MCPConfig        `toml:"mcp"`
	Embeddings ModalityConfig   `toml:"embeddings"`
	STT        ModalityConfig   `toml:"stt"`
	TTS        ModalityConfig   `toml:"tts"`
	ImageGen   ModalityConfig   `toml:"imagegen"`
	Telemetry  *TelemetryConfig `toml:"telemetry"`
	Proxy      *ProxyConfig     `toml:"proxy"`
	Billing    *BillingConfig   `toml:"billing"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML text into a validated Config.
func Parse(data string) (*Config, error) {
	var cfg Config

	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}

	cfg.LLM.providerOrder = tableOrder(md, "llm", "providers")
	cfg.MCP.serverOrder = tableOrder(md, "mcp", "servers")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// tableOrder recovers the declaration order of the sub-tables under the
// given prefix from the decode metadata.
func tableOrder(md toml.MetaData, prefix ...string) []string {
	var order []string
	seen := make(map[string]bool)

	for _, key := range md.Keys() {
		if len(key) < len(prefix)+1 {
			continue
		}
		match := true
		for i, p := range prefix {
			if key[i] != p {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		name := key[len(prefix)]
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	return order
}

func (c *Config) validate() error {
	if err := c.LLM.validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Server.validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.MCP.validate(); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

// ListenAddress returns the configured listen address or the default.
func (c *Config) ListenAddress() string {
	if c.Server.ListenAddress != "" {
		return c.Server.ListenAddress
	}
	return "127.0.0.1:8080"
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen_address %q: %w", addr, err)
	}
	return nil
}

// Duration decodes TOML duration strings like "30s" or "1m".
type Duration time.Duration

// UnmarshalText implements TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
