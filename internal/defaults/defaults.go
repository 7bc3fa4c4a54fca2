// Package defaults provides embedded starter files for the chattr init
// subcommand.
package defaults

import _ "embed"

// ConfigYAML is the starter config.yaml.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// MCPJSON is the starter mcp.json.
//
//go:embed mcp.example.json
var MCPJSON []byte
