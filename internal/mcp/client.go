// Package mcp aggregates tools from downstream MCP servers behind a
// single JSON-RPC endpoint, with a bounded connection cache, a
// full-text tool index, and per-caller access control.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/omnidotdev/synapse/internal/config"
)

const protocolVersion = "2024-11-05"

// ToolRecord is one aggregated downstream tool.
type ToolRecord struct {
	Server      string          `json:"-"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// QualifiedName is the caller-visible name: server.tool.
func (t ToolRecord) QualifiedName() string {
	return t.Server + "." + t.Name
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// transport abstracts how a request reaches a downstream server.
type transport interface {
	roundTrip(ctx context.Context, req rpcRequest) (*rpcResponse, error)
	close() error
}

// Client is a connected downstream MCP server with its discovered
// tools. Construction happens only through DownstreamCache.
type Client struct {
	name      string
	transport transport
	nextID    atomic.Int64
	tools     []ToolRecord
}

// connect performs the initialize handshake and tool discovery.
func connect(ctx context.Context, name string, cfg config.MCPServerConfig) (*Client, error) {
	var tr transport
	var err error

	switch cfg.Type {
	case config.MCPTransportStdio:
		tr, err = newStdioTransport(cfg)
	default:
		tr = &httpTransport{url: cfg.URL, headers: cfg.Headers, httpc: http.DefaultClient}
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}

	c := &Client{name: name, transport: tr}

	if _, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "synapse", "version": "1.0"},
	}); err != nil {
		_ = tr.close()
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}

	result, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		_ = tr.close()
		return nil, fmt.Errorf("list tools %s: %w", name, err)
	}

	var listed struct {
		Tools []ToolRecord `json:"tools"`
	}
	if err := json.Unmarshal(result, &listed); err != nil {
		_ = tr.close()
		return nil, fmt.Errorf("parse tools %s: %w", name, err)
	}
	for i := range listed.Tools {
		listed.Tools[i].Server = name
	}
	c.tools = listed.Tools

	return c, nil
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// Tools returns the tools discovered at handshake time.
func (c *Client) Tools() []ToolRecord { return c.tools }

// CallTool invokes a downstream tool and returns its raw result.
func (c *Client) CallTool(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	params := map[string]any{"name": tool}
	if len(args) > 0 {
		params["arguments"] = args
	}
	return c.call(ctx, "tools/call", params)
}

// Close tears down the downstream connection.
func (c *Client) Close() error { return c.transport.close() }

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	resp, err := c.transport.roundTrip(ctx, rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// httpTransport posts each request to a streamable-HTTP or SSE
// endpoint and reads one response.
type httpTransport struct {
	url     string
	headers map[string]string
	httpc   *http.Client
}

func (t *httpTransport) roundTrip(ctx context.Context, req rpcRequest) (*rpcResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.httpc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downstream returned %s", httpResp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	// A streamable endpoint may answer with an SSE-framed body; unwrap
	// the first data payload.
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("event:")) || bytes.HasPrefix(bytes.TrimSpace(data), []byte("data:")) {
		for _, line := range bytes.Split(data, []byte("\n")) {
			if payload, ok := bytes.CutPrefix(bytes.TrimSpace(line), []byte("data: ")); ok {
				data = payload
				break
			}
		}
	}

	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse downstream response: %w", err)
	}
	return &resp, nil
}

func (t *httpTransport) close() error { return nil }

// stdioTransport runs the server as a child process speaking
// line-delimited JSON-RPC. Calls are serialized; the protocol is
// request-response over a single pipe pair.
type stdioTransport struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func newStdioTransport(cfg config.MCPServerConfig) (*stdioTransport, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	return &stdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 1<<20),
	}, nil
}

func (t *stdioTransport) roundTrip(ctx context.Context, req rpcRequest) (*rpcResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := t.stdin.Write(append(body, '\n')); err != nil {
		return nil, fmt.Errorf("write to downstream: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		line, err := t.stdout.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read from downstream: %w", err)
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			// Skip notifications and log noise on stdout.
			continue
		}
		if resp.Result == nil && resp.Error == nil {
			continue
		}
		return &resp, nil
	}
}

func (t *stdioTransport) close() error {
	_ = t.stdin.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return t.cmd.Wait()
}
