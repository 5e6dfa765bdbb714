// Package mcpclient is a lazily-connecting client for MCP (Model Context
// Protocol) servers. Each named server connects on first use, stays
// connected across calls, and disconnects itself after an idle timeout —
// the calling Task never needs to manage server process lifetime.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	oasis "github.com/nevindra/aicode"
	"github.com/nevindra/aicode/mcp"
)

var _ oasis.MCPCaller = (*Client)(nil)

// Transport is how a server is reached.
type Transport string

const (
	TransportStdio           Transport = "stdio"
	TransportSSE             Transport = "sse"
	TransportStreamableHTTP  Transport = "streamable_http"
)

// ServerConfig describes one configured MCP server.
type ServerConfig struct {
	Name      string
	Transport Transport

	// stdio
	Command string
	Args    []string
	Env     []string

	// sse / streamable_http
	URL     string
	Headers map[string]string
}

// Client manages lazy connections to a set of configured MCP servers.
// Each server connects on first use and is reaped after IdleTimeout of
// inactivity, matching the disconnect-and-retry-once policy: a call that
// fails against a stale connection reconnects once before giving up.
type Client struct {
	servers map[string]ServerConfig

	IdleTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*connection
}

type connection struct {
	mu       sync.Mutex
	session  session
	lastUsed time.Time
}

// New creates a Client for the given servers. Call Close to shut down any
// connections opened during the Client's lifetime.
func New(servers []ServerConfig) *Client {
	byName := make(map[string]ServerConfig, len(servers))
	for _, s := range servers {
		byName[s.Name] = s
	}
	return &Client{
		servers:     byName,
		IdleTimeout: 5 * time.Minute,
		conns:       make(map[string]*connection),
	}
}

// ListTools lists the tools exposed by server, connecting lazily if needed.
func (c *Client) ListTools(ctx context.Context, server string) ([]mcp.ToolDefinition, error) {
	conn, err := c.connect(ctx, server)
	if err != nil {
		return nil, err
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.lastUsed = time.Now()
	return conn.session.listTools(ctx)
}

// CallTool implements aicode.MCPCaller. name is a "server:tool" qualified
// name as produced by the Dispatcher's MCP tool call (the "serverKey:
// toolName" convention); the result is returned as a plain any so this
// package stays free of a dependency on the aicode package's result types.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (any, error) {
	server, tool, ok := strings.Cut(name, ":")
	if !ok {
		return nil, fmt.Errorf("mcpclient: tool name %q is not server-qualified (want \"server:tool\")", name)
	}
	result, err := c.CallServerTool(ctx, server, tool, arguments)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CallServerTool invokes tool on server with arguments. On a failed call
// against an existing connection, it reconnects once and retries before
// returning the error to the caller.
func (c *Client) CallServerTool(ctx context.Context, server, tool string, arguments json.RawMessage) (mcp.ToolCallResult, error) {
	conn, err := c.connect(ctx, server)
	if err != nil {
		return mcp.ToolCallResult{}, err
	}

	conn.mu.Lock()
	conn.lastUsed = time.Now()
	result, callErr := conn.session.callTool(ctx, tool, arguments)
	conn.mu.Unlock()
	if callErr == nil {
		return result, nil
	}

	// Retry once against a fresh connection.
	c.mu.Lock()
	conn.session.close()
	delete(c.conns, server)
	c.mu.Unlock()

	conn, err = c.connect(ctx, server)
	if err != nil {
		return mcp.ToolCallResult{}, fmt.Errorf("mcpclient: reconnect %s: %w", server, err)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.lastUsed = time.Now()
	return conn.session.callTool(ctx, tool, arguments)
}

// connect returns the live connection for server, opening one if needed,
// and reaps any other connections idle past IdleTimeout.
func (c *Client) connect(ctx context.Context, server string) (*connection, error) {
	cfg, ok := c.servers[server]
	if !ok {
		return nil, fmt.Errorf("mcpclient: unknown server %q", server)
	}

	c.mu.Lock()
	c.reapLocked()
	conn, ok := c.conns[server]
	c.mu.Unlock()
	if ok {
		return conn, nil
	}

	sess, err := dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: connect %s: %w", server, err)
	}

	conn = &connection{session: sess, lastUsed: time.Now()}

	c.mu.Lock()
	if existing, ok := c.conns[server]; ok {
		c.mu.Unlock()
		sess.close()
		return existing, nil
	}
	c.conns[server] = conn
	c.mu.Unlock()

	return conn, nil
}

// reapLocked closes and drops connections idle past IdleTimeout. Caller
// must hold c.mu.
func (c *Client) reapLocked() {
	if c.IdleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-c.IdleTimeout)
	for name, conn := range c.conns {
		conn.mu.Lock()
		idle := conn.lastUsed.Before(cutoff)
		conn.mu.Unlock()
		if idle {
			conn.session.close()
			delete(c.conns, name)
		}
	}
}

// Close disconnects every open server connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, conn := range c.conns {
		conn.session.close()
		delete(c.conns, name)
	}
	return nil
}

// session is the transport-agnostic interface a connected server satisfies.
type session interface {
	listTools(ctx context.Context) ([]mcp.ToolDefinition, error)
	callTool(ctx context.Context, name string, arguments json.RawMessage) (mcp.ToolCallResult, error)
	close() error
}

func dial(ctx context.Context, cfg ServerConfig) (session, error) {
	switch cfg.Transport {
	case TransportStdio, "":
		return dialStdio(ctx, cfg)
	case TransportSSE, TransportStreamableHTTP:
		return dialHTTP(ctx, cfg)
	default:
		return nil, fmt.Errorf("mcpclient: unsupported transport %q", cfg.Transport)
	}
}
