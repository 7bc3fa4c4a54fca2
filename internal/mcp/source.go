package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/chattr/internal/tools"
)

// ConnectTimeout bounds the dial, initialize and tools/list sequence for
// one server.
const ConnectTimeout = 30 * time.Second

// Source adapts one MCP server to tools.Source.
type Source struct {
	cfg    ServerConfig
	logger *slog.Logger
	dial   func(ctx context.Context, cfg ServerConfig, logger *slog.Logger) (*Client, error)

	mu     sync.Mutex
	client *Client
}

// NewSource creates a registry source for the configured server. No
// connection is made until Connect.
func NewSource(cfg ServerConfig, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{cfg: cfg, logger: logger, dial: Dial}
}

// Name returns the configured server name.
func (s *Source) Name() string {
	return s.cfg.Name
}

// Connect dials the server and returns its tools after applying the
// include and exclude filters.
func (s *Source) Connect(ctx context.Context) ([]*tools.Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	c, err := s.dial(ctx, s.cfg, s.logger)
	if err != nil {
		return nil, err
	}

	bridged, err := BridgeTools(ctx, c, s.cfg.IncludeTools, s.cfg.ExcludeTools, s.logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
	return bridged, nil
}

// Client returns the live client, or nil before Connect.
func (s *Source) Client() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Close closes the session if one was opened.
func (s *Source) Close() error {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// Sources builds one Source per configured server.
func Sources(servers []ServerConfig, logger *slog.Logger) []*Source {
	out := make([]*Source, 0, len(servers))
	for _, cfg := range servers {
		out = append(out, NewSource(cfg, logger))
	}
	return out
}

// BridgeTools lists the client's tools and wraps each as a tools.Tool
// that proxies calls to the server.
//
// If include is non-empty only the named tools are bridged; otherwise
// tools named in exclude are skipped.
func BridgeTools(ctx context.Context, c *Client, include, exclude []string, logger *slog.Logger) ([]*tools.Tool, error) {
	if c == nil {
		return nil, errors.New("bridge tools: nil client")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defs, err := c.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", c.Name(), err)
	}

	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	out := make([]*tools.Tool, 0, len(defs))
	for _, td := range defs {
		if len(includeSet) > 0 {
			if !includeSet[td.Name] {
				continue
			}
		} else if excludeSet[td.Name] {
			continue
		}
		out = append(out, bridgeTool(c, td))
		logger.Debug("bridged MCP tool", "tool", td.Name, "server", c.Name())
	}
	return out, nil
}

func bridgeTool(c *Client, td ToolDefinition) *tools.Tool {
	name := td.Name
	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  td.InputSchema,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			c.logger.Debug("calling MCP tool",
				"tool", name,
				"thread_id", tools.ThreadIDFromContext(ctx),
				"call_id", tools.CallIDFromContext(ctx),
			)
			return c.CallTool(ctx, name, args)
		},
	}
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
