package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MCPFileName is the only accepted name for a standalone MCP server file.
const MCPFileName = "mcp.json"

// MCP transports.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

// MCPServer describes one MCP tool server.
type MCPServer struct {
	Name      string            `yaml:"name" json:"name"`
	Transport string            `yaml:"transport" json:"transport"`
	Command   string            `yaml:"command" json:"command,omitempty"`
	Args      []string          `yaml:"args" json:"args,omitempty"`
	Env       map[string]string `yaml:"env" json:"env,omitempty"`
	URL       string            `yaml:"url" json:"url,omitempty"`
	Headers   map[string]string `yaml:"headers" json:"headers,omitempty"`

	// IncludeTools, when non-empty, limits bridged tools to these names.
	IncludeTools []string `yaml:"include_tools" json:"include_tools,omitempty"`
	// ExcludeTools skips the named tools. Ignored if IncludeTools is set.
	ExcludeTools []string `yaml:"exclude_tools" json:"exclude_tools,omitempty"`
}

// Validate checks that the transport has the fields it needs.
func (s MCPServer) Validate() error {
	if s.Name == "" {
		return &ParameterMissingError{Parameter: "MCP server name", EnvVar: MCPFileName}
	}
	switch s.Transport {
	case TransportStdio:
		if s.Command == "" {
			return &ConfigurationError{Reason: fmt.Sprintf("mcp server %q: stdio transport requires a command", s.Name)}
		}
	case TransportSSE, TransportStreamableHTTP:
		if s.URL == "" {
			return &ConfigurationError{Reason: fmt.Sprintf("mcp server %q: %s transport requires a url", s.Name, s.Transport)}
		}
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("mcp server %q: unknown transport %q (valid: stdio, sse, streamable-http)", s.Name, s.Transport)}
	}
	return nil
}

type mcpFile struct {
	Servers []MCPServer `json:"mcp_servers"`
}

// LoadMCPFile reads MCP server definitions from an mcp.json file.
func LoadMCPFile(path string) ([]MCPServer, error) {
	if filepath.Base(path) != MCPFileName {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("mcp config file must be named %s, got %s", MCPFileName, filepath.Base(path))}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: "read " + path, Err: err}
	}

	var f mcpFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ConfigurationError{Reason: "parse " + path, Err: err}
	}

	for _, s := range f.Servers {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Servers, nil
}
