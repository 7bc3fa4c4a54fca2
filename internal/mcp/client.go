package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nugget/chattr/internal/buildinfo"
	"github.com/nugget/chattr/internal/config"
)

// ServerConfig describes one MCP server.
type ServerConfig = config.MCPServer

// ToolDefinition is an MCP tool as returned by tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// session is the subset of the mcp-go client used here.
type session interface {
	Initialize(ctx context.Context, req mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error)
	ListTools(ctx context.Context, req mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
	CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// Client is an initialized session with a single MCP server.
type Client struct {
	name    string
	session session
	logger  *slog.Logger

	mu         sync.RWMutex
	serverName string
	serverVer  string
	tools      []ToolDefinition

	closeOnce sync.Once
	closeErr  error
}

// Dial opens a session to the configured server and performs the
// initialize handshake.
func Dial(ctx context.Context, cfg ServerConfig, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := openSession(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Name, err)
	}

	c, err := newClient(ctx, cfg.Name, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return c, nil
}

func openSession(ctx context.Context, cfg ServerConfig) (session, error) {
	switch cfg.Transport {
	case config.TransportStdio:
		// The stdio client starts the subprocess itself.
		return mcpclient.NewStdioMCPClient(cfg.Command, envList(cfg.Env), cfg.Args...)

	case config.TransportSSE:
		c, err := mcpclient.NewSSEMCPClient(cfg.URL, transport.WithHeaders(cfg.Headers))
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("start sse: %w", err)
		}
		return c, nil

	case config.TransportStreamableHTTP:
		c, err := mcpclient.NewStreamableHttpClient(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("start streamable-http: %w", err)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// envList renders an env map as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func newClient(ctx context.Context, name string, s session, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		name:    name,
		session: s,
		logger:  logger.With("mcp_server", name),
	}
	if err := c.initialize(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize(ctx context.Context) error {
	var req mcpgo.InitializeRequest
	req.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpgo.Implementation{
		Name:    buildinfo.Name,
		Version: buildinfo.Get().Version,
	}

	result, err := c.session.Initialize(ctx, req)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", c.name, err)
	}

	c.mu.Lock()
	c.serverName = result.ServerInfo.Name
	c.serverVer = result.ServerInfo.Version
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)
	return nil
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.name
}

// ServerInfo returns the name and version reported during initialize.
func (c *Client) ServerInfo() (name, version string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, c.serverVer
}

// ListTools calls tools/list. Results are cached after the first
// successful call.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	c.mu.RLock()
	if c.tools != nil {
		defer c.mu.RUnlock()
		return c.tools, nil
	}
	c.mu.RUnlock()

	result, err := c.session.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	defs := make([]ToolDefinition, 0, len(result.Tools))
	for _, t := range result.Tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: inputSchema(t),
		})
	}

	c.mu.Lock()
	c.tools = defs
	c.mu.Unlock()

	c.logger.Info("discovered MCP tools", "count", len(defs))
	return defs, nil
}

// inputSchema renders the tool's schema the way it appears on the wire,
// which covers both structured and raw schemas.
func inputSchema(t mcpgo.Tool) map[string]any {
	data, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil
	}
	return wire.InputSchema
}

// CallTool invokes a tool and flattens the result content to a single
// string. A result flagged isError is returned as an error carrying the
// server's text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	var req mcpgo.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.session.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}
	if result == nil {
		return "", fmt.Errorf("tools/call %s: empty result", name)
	}

	text := extractText(result.Content)
	if result.IsError {
		return "", fmt.Errorf("MCP tool %s returned error: %s", name, text)
	}
	return text, nil
}

// Ping checks whether the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.session.Ping(ctx)
}

// Close ends the session. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
		if c.closeErr != nil && errors.Is(c.closeErr, context.Canceled) {
			c.closeErr = nil
		}
	})
	return c.closeErr
}

// extractText joins text blocks with newlines and describes other
// content inline, e.g. "[image]". Resources and resource links become
// their URI so a media tool's payload is the media ref.
func extractText(content []mcpgo.Content) string {
	parts := make([]string, 0, len(content))
	for _, block := range content {
		switch b := block.(type) {
		case mcpgo.TextContent:
			parts = append(parts, b.Text)
		case *mcpgo.TextContent:
			parts = append(parts, b.Text)
		case mcpgo.ImageContent:
			parts = append(parts, "[image]")
		case mcpgo.AudioContent:
			parts = append(parts, "[audio]")
		case mcpgo.EmbeddedResource:
			parts = append(parts, resourceURI(b.Resource))
		case *mcpgo.EmbeddedResource:
			parts = append(parts, resourceURI(b.Resource))
		case mcpgo.ResourceLink:
			parts = append(parts, b.URI)
		case *mcpgo.ResourceLink:
			parts = append(parts, b.URI)
		default:
			parts = append(parts, fmt.Sprintf("[%T]", block))
		}
	}
	return strings.Join(parts, "\n")
}

// resourceURI names an embedded resource by its URI.
func resourceURI(r mcpgo.ResourceContents) string {
	switch c := r.(type) {
	case mcpgo.TextResourceContents:
		return c.URI
	case *mcpgo.TextResourceContents:
		return c.URI
	case mcpgo.BlobResourceContents:
		return c.URI
	case *mcpgo.BlobResourceContents:
		return c.URI
	}
	return "[resource]"
}
