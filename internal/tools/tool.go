// Package tools defines the unified tool surface: one Tool interface
// implemented by builtin tools, custom provider tools, and remote
// bridge tools, resolved by name through a fixed source priority.
package tools

import (
	"context"
	"encoding/json"
)

// SourceKind identifies where a tool comes from. Resolution order is
// builtin, then custom providers, then remote bridges: the first source
// that knows the name wins.
type SourceKind string

const (
	SourceBuiltin SourceKind = "builtin"
	SourceCustom  SourceKind = "custom"
	SourceRemote  SourceKind = "remote"
)

// sourcePriority is the fixed resolution order.
var sourcePriority = []SourceKind{SourceBuiltin, SourceCustom, SourceRemote}

// ExecutionMode controls how the dispatcher delivers a tool's result.
type ExecutionMode string

const (
	// ModeSync blocks the turn until the tool completes.
	ModeSync ExecutionMode = "sync"
	// ModeBackground acknowledges immediately and delivers the result
	// asynchronously when the tool finishes.
	ModeBackground ExecutionMode = "background"
)

// Definition describes a tool to the model.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Result is a tool execution outcome.
type Result struct {
	Content string         `json:"content"`
	IsError bool           `json:"is_error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Tool is one invocable capability.
type Tool interface {
	// Definition returns the tool's name, description and JSON schema.
	Definition() Definition

	// Execute runs the tool with JSON-encoded arguments.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Source is a provider of tools.
type Source interface {
	// Kind identifies the source's position in resolution priority.
	Kind() SourceKind

	// Lookup returns the named tool, or false when unknown.
	Lookup(name string) (Tool, bool)

	// Tools lists every tool the source currently offers.
	Tools() []Tool
}

// BackgroundCapable marks tools that may run in background mode.
type BackgroundCapable interface {
	ExecutionMode() ExecutionMode
}

// ModeOf returns the tool's execution mode, defaulting to sync.
func ModeOf(t Tool) ExecutionMode {
	if bc, ok := t.(BackgroundCapable); ok {
		if mode := bc.ExecutionMode(); mode != "" {
			return mode
		}
	}
	return ModeSync
}
