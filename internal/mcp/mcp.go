// Package mcp bridges tools exposed by remote Model Context Protocol
// servers into the runtime's unified tool surface.
package mcp

import (
	"context"
	"encoding/json"
)

// ToolInfo describes a tool advertised by a remote server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CallResult is a remote tool invocation outcome.
type CallResult struct {
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// Client is a connection to one remote MCP server.
type Client interface {
	// Name identifies the server, used to namespace its tools.
	Name() string

	// ListTools returns the server's current tool catalog.
	ListTools(ctx context.Context) ([]ToolInfo, error)

	// CallTool invokes a remote tool by its unqualified name.
	CallTool(ctx context.Context, name string, input json.RawMessage) (*CallResult, error)

	// Close releases the connection.
	Close() error
}
