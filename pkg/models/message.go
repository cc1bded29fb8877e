// Package models defines the shared data types that flow through the
// turn-governance pipeline: conversation messages, tool calls and results,
// and the runtime events surfaced to transports.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single entry in a session's conversation history.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Reasoning   string         `json:"reasoning,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// IsSummary reports whether this message is a synthetic compaction summary.
func (m *Message) IsSummary() bool {
	if m == nil || m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata["summary"].(bool)
	return ok && v
}

// ToolCall represents an LLM's request to execute a tool. It is immutable
// once issued; ID is the correlation key used by approvals, hooks, and
// result matching.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	SessionID string          `json:"session_id,omitempty"`
}

// ToolResult represents the output of a tool execution. Exactly one
// ToolResult must eventually exist per issued ToolCall ID; when execution
// never produced one (denial, timeout, interrupt) a synthetic result is
// injected with Synthetic set.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
	Synthetic  bool   `json:"synthetic,omitempty"`
}

// TokenUsage reports token consumption for one LLM request.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Session represents a conversation thread.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
