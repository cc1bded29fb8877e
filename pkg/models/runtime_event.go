package models

import "time"

// RuntimeEventType defines the types of runtime events.
type RuntimeEventType string

const (
	// EventToolCall indicates the LLM requested a tool execution.
	EventToolCall RuntimeEventType = "tool_call"

	// EventToolStarted indicates a tool has started executing.
	EventToolStarted RuntimeEventType = "tool_started"

	// EventToolResult indicates a tool call has been resolved with a result.
	EventToolResult RuntimeEventType = "tool_result"

	// EventToolFailed indicates a tool execution failed.
	EventToolFailed RuntimeEventType = "tool_failed"

	// EventToolTimeout indicates a tool execution timed out.
	EventToolTimeout RuntimeEventType = "tool_timeout"

	// EventToolDenied indicates a tool call was denied by governance.
	EventToolDenied RuntimeEventType = "tool_denied"

	// EventToolConfirmationRequest indicates a tool call is awaiting approval.
	EventToolConfirmationRequest RuntimeEventType = "tool_confirmation_request"

	// EventBackgroundStarted indicates a tool call was queued for
	// background execution and an acknowledgement was returned.
	EventBackgroundStarted RuntimeEventType = "background_started"

	// EventContextCompacted indicates conversation history was compacted.
	EventContextCompacted RuntimeEventType = "context_compacted"

	// EventTurnStarted indicates a turn began processing.
	EventTurnStarted RuntimeEventType = "turn_started"

	// EventTurnCompleted indicates a turn finished.
	EventTurnCompleted RuntimeEventType = "turn_completed"
)

// RuntimeEvent represents a lifecycle event during turn processing.
// These events provide observability into the pipeline's execution flow
// and are consumed by the transport layer.
type RuntimeEvent struct {
	// Type identifies the kind of event.
	Type RuntimeEventType `json:"type"`

	// SessionID identifies the session this event belongs to.
	SessionID string `json:"session_id,omitempty"`

	// Message is a human-readable description of the event.
	Message string `json:"message,omitempty"`

	// ToolName is the name of the tool (for tool events).
	ToolName string `json:"tool_name,omitempty"`

	// ToolCallID is the ID of the tool call (for tool events).
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Meta contains additional event-specific metadata.
	Meta map[string]any `json:"meta,omitempty"`
}

// NewEvent creates a runtime event stamped with the current time.
func NewEvent(eventType RuntimeEventType) *RuntimeEvent {
	return &RuntimeEvent{
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// NewToolEvent creates a tool lifecycle event.
func NewToolEvent(eventType RuntimeEventType, toolName, toolCallID string) *RuntimeEvent {
	return &RuntimeEvent{
		Type:       eventType,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Timestamp:  time.Now(),
	}
}

// WithMessage adds a message to the event.
func (e *RuntimeEvent) WithMessage(msg string) *RuntimeEvent {
	e.Message = msg
	return e
}

// WithSession sets the session ID on the event.
func (e *RuntimeEvent) WithSession(sessionID string) *RuntimeEvent {
	e.SessionID = sessionID
	return e
}

// WithMeta adds metadata to the event.
func (e *RuntimeEvent) WithMeta(key string, value any) *RuntimeEvent {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}
