package mcp

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/omnidotdev/synapse/internal/middleware"
)

// JSON-RPC error codes used by the endpoint.
const (
	codeParse          int64 = -32700
	codeInvalidRequest int64 = -32600
	codeMethodNotFound int64 = -32601
	codeInternal       int64 = -32603
)

// Handler serves the aggregated MCP endpoint: initialize, tools/list,
// tools/call, and tools/search over JSON-RPC 2.0.
type Handler struct {
	agg *Aggregator
}

// NewHandler wraps an aggregator.
func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		writeRPCError(w, nil, codeParse, "failed to read request")
		return
	}

	var req struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, nil, codeParse, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		writeRPCError(w, req.ID, codeInvalidRequest, "jsonrpc must be 2.0")
		return
	}

	principal := middleware.ContextFrom(r.Context()).Authentication.Principal

	switch req.Method {
	case "initialize":
		writeRPCResult(w, req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "synapse", "version": "1.0"},
		})

	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)

	case "tools/list":
		tools := h.agg.Tools(principal)
		listed := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			entry := map[string]any{
				"name":        t.QualifiedName(),
				"description": t.Description,
			}
			if len(t.InputSchema) > 0 {
				entry["inputSchema"] = t.InputSchema
			}
			listed = append(listed, entry)
		}
		writeRPCResult(w, req.ID, map[string]any{"tools": listed})

	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			writeRPCError(w, req.ID, codeInvalidRequest, "tools/call needs a name")
			return
		}
		result, err := h.agg.Call(r.Context(), principal, params.Name, params.Arguments)
		if err != nil {
			writeRPCError(w, req.ID, codeInternal, err.Error())
			return
		}
		writeRawRPCResult(w, req.ID, result)

	case "tools/search":
		var params struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Query == "" {
			writeRPCError(w, req.ID, codeInvalidRequest, "tools/search needs a query")
			return
		}
		tools := h.agg.Search(principal, params.Query)
		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.QualifiedName())
		}
		writeRPCResult(w, req.ID, map[string]any{"tools": names})

	default:
		writeRPCError(w, req.ID, codeMethodNotFound, "unknown method "+req.Method)
	}
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		writeRPCError(w, id, codeInternal, "failed to encode result")
		return
	}
	writeRawRPCResult(w, id, raw)
}

func writeRawRPCResult(w http.ResponseWriter, id json.RawMessage, result json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int64, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
