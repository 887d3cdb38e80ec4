package mcp

import "github.com/omnidotdev/synapse/internal/config"

// AccessController checks (caller, server, tool) triples against the
// per-server allow/deny rules. A server with any rule configured is
// default-deny; a server with none is default-allow.
type AccessController struct {
	rules map[string]serverRules
}

type serverRules struct {
	allow map[string]bool
	deny  map[string]bool
}

// NewAccessController compiles the rules from configuration.
func NewAccessController(servers map[string]config.MCPServerConfig) *AccessController {
	rules := make(map[string]serverRules, len(servers))
	for name, s := range servers {
		if !s.HasRules() {
			continue
		}
		r := serverRules{allow: make(map[string]bool), deny: make(map[string]bool)}
		for _, t := range s.Allow {
			r.allow[t] = true
		}
		for _, t := range s.Deny {
			r.deny[t] = true
		}
		rules[name] = r
	}
	return &AccessController{rules: rules}
}

// Allowed reports whether the caller may see and invoke the tool.
func (a *AccessController) Allowed(_ string, server, tool string) bool {
	r, ok := a.rules[server]
	if !ok {
		return true
	}
	if r.deny[tool] {
		return false
	}
	return r.allow[tool]
}
