package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/omnidotdev/synapse/internal/config"
)

// DownstreamCache bounds live downstream connections with an LRU cap
// and a TTL counted from when each client was connected; lookups do
// not extend it. Keys hash the server name together with its
// transport parameters, so reconfiguring a server's URL or command
// invalidates its cached client.
type DownstreamCache struct {
	cache  *expirable.LRU[string, *Client]
	flight singleflight.Group
}

// NewDownstreamCache builds the cache from configuration. Evicted
// clients are closed.
func NewDownstreamCache(cfg config.MCPCacheConfig) *DownstreamCache {
	onEvict := func(_ string, client *Client) {
		_ = client.Close()
	}
	return &DownstreamCache{
		cache: expirable.NewLRU[string, *Client](cfg.Cap(), onEvict, time.Duration(cfg.IdleTTL())*time.Second),
	}
}

// GetOrConnect returns the cached client for the server or connects a
// new one. Concurrent calls for the same key share a single connection
// attempt; both callers receive the same client.
func (d *DownstreamCache) GetOrConnect(ctx context.Context, name string, cfg config.MCPServerConfig) (*Client, error) {
	key := cacheKey(name, cfg)

	if client, ok := d.cache.Get(key); ok {
		return client, nil
	}

	v, err, _ := d.flight.Do(key, func() (any, error) {
		// Re-check under the flight: a racing caller may have
		// connected while we waited for the slot.
		if client, ok := d.cache.Get(key); ok {
			return client, nil
		}
		client, err := connect(ctx, name, cfg)
		if err != nil {
			return nil, err
		}
		d.cache.Add(key, client)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// Invalidate evicts (and closes) the cached client for a server.
func (d *DownstreamCache) Invalidate(name string, cfg config.MCPServerConfig) {
	d.cache.Remove(cacheKey(name, cfg))
}

// Len returns the number of cached connections.
func (d *DownstreamCache) Len() int { return d.cache.Len() }

// cacheKey is SHA-256 over the server name and its transport
// discriminator and parameters.
func cacheKey(name string, cfg config.MCPServerConfig) string {
	h := sha256.New()
	h.Write([]byte(name))

	switch cfg.Type {
	case config.MCPTransportStdio:
		h.Write([]byte("stdio:"))
		h.Write([]byte(cfg.Command))
		for _, arg := range cfg.Args {
			h.Write([]byte(arg))
		}
	case config.MCPTransportSSE:
		h.Write([]byte("sse:"))
		h.Write([]byte(cfg.URL))
	default:
		h.Write([]byte("streamable:"))
		h.Write([]byte(cfg.URL))
	}

	return hex.EncodeToString(h.Sum(nil))
}
