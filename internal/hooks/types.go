// Package hooks implements the extension-point pipeline: an ordered list
// of registered handlers invoked at fixed stages of a turn's lifecycle.
// Handlers observe the current payload, may shallow-merge modifications
// into it, and may cancel the stage entirely.
package hooks

import (
	"context"
	"log/slog"

	"github.com/aegis-dev/aegis/pkg/models"
)

// ExtensionPoint identifies a fixed stage in the turn lifecycle where
// registered handlers run. The set is closed; hooks implementing none of
// these points are a configuration error.
type ExtensionPoint string

const (
	// BeforeLLMRequest fires before the candidate history is sent to the
	// provider. Payload keys: text, image_data, file_data, session_id.
	BeforeLLMRequest ExtensionPoint = "beforeLLMRequest"

	// BeforeToolCall fires before a requested tool call is resolved and
	// executed. Payload keys: tool_name, args, session_id, call_id.
	BeforeToolCall ExtensionPoint = "beforeToolCall"

	// AfterToolResult fires after a tool call resolves, before the result
	// is reported. Payload keys: tool_name, result, success, session_id, call_id.
	AfterToolResult ExtensionPoint = "afterToolResult"

	// BeforeResponse fires before the final answer is emitted.
	// Payload keys: content, reasoning, provider, model, token_usage, session_id.
	BeforeResponse ExtensionPoint = "beforeResponse"
)

// ExtensionPoints lists all valid extension points.
var ExtensionPoints = []ExtensionPoint{
	BeforeLLMRequest,
	BeforeToolCall,
	AfterToolResult,
	BeforeResponse,
}

// Payload carries the mutable data for one extension-point invocation.
// Handlers receive a copy; modifications flow forward only through
// Result.Modify so the pipeline controls all merging.
type Payload map[string]any

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	clone := make(Payload, len(p))
	for k, v := range p {
		clone[k] = v
	}
	return clone
}

// Payload keys shared across extension points.
const (
	KeyText       = "text"
	KeyImageData  = "image_data"
	KeyFileData   = "file_data"
	KeySessionID  = "session_id"
	KeyToolName   = "tool_name"
	KeyArgs       = "args"
	KeyCallID     = "call_id"
	KeyResult     = "result"
	KeySuccess    = "success"
	KeyContent    = "content"
	KeyReasoning  = "reasoning"
	KeyProvider   = "provider"
	KeyModel      = "model"
	KeyTokenUsage = "token_usage"
)

// NewLLMRequestPayload builds the payload for BeforeLLMRequest.
func NewLLMRequestPayload(text string, imageData, fileData []byte, sessionID string) Payload {
	p := Payload{KeyText: text, KeySessionID: sessionID}
	if len(imageData) > 0 {
		p[KeyImageData] = imageData
	}
	if len(fileData) > 0 {
		p[KeyFileData] = fileData
	}
	return p
}

// NewToolCallPayload builds the payload for BeforeToolCall.
func NewToolCallPayload(toolName string, args map[string]any, sessionID, callID string) Payload {
	return Payload{
		KeyToolName:  toolName,
		KeyArgs:      args,
		KeySessionID: sessionID,
		KeyCallID:    callID,
	}
}

// NewToolResultPayload builds the payload for AfterToolResult.
func NewToolResultPayload(toolName, result string, success bool, sessionID, callID string) Payload {
	return Payload{
		KeyToolName:  toolName,
		KeyResult:    result,
		KeySuccess:   success,
		KeySessionID: sessionID,
		KeyCallID:    callID,
	}
}

// NewResponsePayload builds the payload for BeforeResponse.
func NewResponsePayload(content, reasoning, provider, model string, usage *models.TokenUsage, sessionID string) Payload {
	p := Payload{
		KeyContent:   content,
		KeyProvider:  provider,
		KeySessionID: sessionID,
	}
	if reasoning != "" {
		p[KeyReasoning] = reasoning
	}
	if model != "" {
		p[KeyModel] = model
	}
	if usage != nil {
		p[KeyTokenUsage] = usage
	}
	return p
}

// Result is returned by a handler to the pipeline.
type Result struct {
	// OK reports whether the handler ran without issue. Cancel aborts the
	// pipeline regardless of OK.
	OK bool `json:"ok"`

	// Modify is shallow-merged into the payload; later handlers observe
	// the merged value.
	Modify map[string]any `json:"modify,omitempty"`

	// Cancel aborts the remaining chain at this point.
	Cancel bool `json:"cancel,omitempty"`

	// Message is shown to the user when the pipeline is cancelled.
	Message string `json:"message,omitempty"`

	// Notices are accumulated across handlers for observability.
	Notices []string `json:"notices,omitempty"`
}

// Handler processes a payload at one extension point.
type Handler func(ctx context.Context, payload Payload, execCtx *ExecContext) (*Result, error)

// Priority determines the order handlers are called (lower = earlier).
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration represents a registered hook handler at one extension point.
type Registration struct {
	// ID is a unique identifier for this registration.
	ID string

	// Point is the extension point this handler runs at.
	Point ExtensionPoint

	// Handler is the function to call.
	Handler Handler

	// Priority determines call order (lower = earlier). Ties are stable
	// on registration order.
	Priority Priority

	// Name is a human-readable name for debugging.
	Name string

	// Source identifies where this handler came from (plugin name, etc).
	Source string

	// Once removes the registration after its first execution.
	Once bool

	// seq preserves registration order for stable priority ties.
	seq uint64
}

// LLMConfig is the current provider configuration exposed to handlers.
type LLMConfig struct {
	Provider  string
	Model     string
	MaxTokens int
}

// HistoryReader provides read-only access to session history.
type HistoryReader interface {
	History(ctx context.Context, sessionID string) ([]*models.Message, error)
}

// ToolReader provides read-only access to the available tool set.
type ToolReader interface {
	ToolNames() []string
}

// ApprovalReader provides read-only access to pending approval state.
type ApprovalReader interface {
	PendingCount(sessionID string) int
}

// Services bundles the read-only service handles handlers may consult.
// The pipeline never constructs these; the composition root injects them.
type Services struct {
	History   HistoryReader
	Tools     ToolReader
	Approvals ApprovalReader
}

// ExecContext is the read-only execution context passed to every handler.
// Cancellation is carried by the ctx argument, not by this struct.
type ExecContext struct {
	SessionID string
	LLM       LLMConfig
	Logger    *slog.Logger
	Services  Services
}

// Plugin is a hook instance implementing a non-empty subset of the
// extension points. Initialize is called once before first use; Cleanup
// on shutdown, best-effort.
type Plugin interface {
	// Name identifies the plugin in logs and registration sources.
	Name() string

	// Hooks returns the handlers keyed by extension point. An empty map
	// is a configuration error.
	Hooks() map[ExtensionPoint]Handler

	// Initialize prepares the plugin with its configuration.
	Initialize(config map[string]any) error

	// Cleanup releases plugin resources. Failures are logged, not propagated.
	Cleanup() error
}
