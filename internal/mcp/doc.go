// Package mcp connects chattr to external MCP (Model Context Protocol)
// tool servers and exposes their tools to the turn controller.
//
// Sessions are provided by github.com/mark3labs/mcp-go over three
// transports: stdio (subprocess), SSE, and streamable HTTP. Each
// configured server becomes a [Source] that the tool registry connects
// at startup. Servers that fail to connect are skipped; the registry
// carries on with whatever did connect.
//
// Tools keep their MCP names so that the media kinds named in
// configuration (generate_audio_for_text, generate_video_mcp) match
// exactly.
package mcp
