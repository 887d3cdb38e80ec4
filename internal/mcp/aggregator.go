package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/omnidotdev/synapse/internal/config"
)

// Aggregator is the shared MCP subsystem state: the downstream
// connection cache, compiled access rules, and the current tool index.
// The index pointer is swapped atomically on refresh; readers never
// block.
type Aggregator struct {
	cfg    *config.MCPConfig
	cache  *DownstreamCache
	access *AccessController
	index  atomic.Pointer[ToolIndex]
	logger zerolog.Logger
}

// NewAggregator builds the subsystem from configuration. Call Refresh
// to connect the configured servers and populate the index.
func NewAggregator(cfg *config.MCPConfig, logger zerolog.Logger) *Aggregator {
	a := &Aggregator{
		cfg:    cfg,
		cache:  NewDownstreamCache(cfg.Cache),
		access: NewAccessController(cfg.Servers),
		logger: logger,
	}
	a.index.Store(BuildIndex(nil))
	return a
}

// Refresh connects every configured server in declaration order,
// aggregates their tools, and replaces the index atomically. Servers
// that fail to connect are skipped, keeping the aggregate partial
// rather than empty.
func (a *Aggregator) Refresh(ctx context.Context) {
	var tools []ToolRecord

	for _, name := range a.cfg.ServerOrder() {
		serverCfg, ok := a.cfg.Servers[name]
		if !ok {
			continue
		}
		client, err := a.cache.GetOrConnect(ctx, name, serverCfg)
		if err != nil {
			a.logger.Warn().Err(err).Str("server", name).Msg("downstream connect failed")
			continue
		}
		tools = append(tools, client.Tools()...)
	}

	a.index.Store(BuildIndex(tools))
	a.logger.Info().Int("tools", len(tools)).Msg("tool index rebuilt")
}

// Tools lists the tools visible to the caller.
func (a *Aggregator) Tools(principal string) []ToolRecord {
	idx := a.index.Load()
	out := make([]ToolRecord, 0, idx.Len())
	for _, t := range idx.tools {
		if a.access.Allowed(principal, t.Server, t.Name) {
			out = append(out, t)
		}
	}
	return out
}

// Search queries the index, filtered by the caller's access.
func (a *Aggregator) Search(principal, query string) []ToolRecord {
	var out []ToolRecord
	for _, t := range a.index.Load().Search(query) {
		if a.access.Allowed(principal, t.Server, t.Name) {
			out = append(out, t)
		}
	}
	return out
}

// Call routes a qualified tool name (server.tool) to its downstream
// server and invokes it.
func (a *Aggregator) Call(ctx context.Context, principal, qualified string, args json.RawMessage) (json.RawMessage, error) {
	server, tool, ok := strings.Cut(qualified, ".")
	if !ok {
		return nil, fmt.Errorf("tool name %q is not server.tool", qualified)
	}

	serverCfg, exists := a.cfg.Servers[server]
	if !exists {
		return nil, fmt.Errorf("unknown server %q", server)
	}
	if !a.access.Allowed(principal, server, tool) {
		return nil, fmt.Errorf("access denied to %s", qualified)
	}

	client, err := a.cache.GetOrConnect(ctx, server, serverCfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", server, err)
	}

	return client.CallTool(ctx, tool, args)
}
