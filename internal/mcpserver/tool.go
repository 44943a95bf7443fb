// Package mcpserver implements the MCP Request Handler (C6): the
// tools/list, tools/call, resources/list, resources/read, and batch
// JSON-RPC methods spec §4.6 names, wired to C4's coordinator and C5's
// registry. Grounded on ratchet-mcp/src/server/handler.rs's method bodies
// (pagination, permission checks, correlation/metrics/audit call order)
// translated into Go, using internal/mcp's envelope types for the wire
// format.
package mcpserver

import "encoding/json"

// Tool is the MCP-visible projection of a task: name, human description,
// and its JSON Schema input shape.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource is a named, URI-addressable artifact the server can expose via
// resources/list and resources/read. Ratchet currently exposes none by
// default (spec §4.6's Open Question on resource scope), so ResourceLister
// returning an empty slice is a complete, correct implementation.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContent is one resources/read result entry.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}
