// Package agent implements the turn pipeline: hook execution around
// every model request, approval-gated tool dispatch across the unified
// tool surface, and synchronous history compaction when the token
// budget is reached.
package agent

import (
	"errors"
	"fmt"
)

// ToolErrorType classifies tool dispatch failures. Every failure mode
// in a turn maps to exactly one type so synthetic results and telemetry
// stay consistent.
type ToolErrorType string

const (
	// ErrTypeNotFound means no source resolves the tool name.
	ErrTypeNotFound ToolErrorType = "not_found"
	// ErrTypeInvalidInput means the call arguments failed schema
	// validation or decoding.
	ErrTypeInvalidInput ToolErrorType = "invalid_input"
	// ErrTypeTimeout means the tool exceeded its execution deadline.
	ErrTypeTimeout ToolErrorType = "timeout"
	// ErrTypePermission means approval was denied, timed out, or a hook
	// blocked the call.
	ErrTypePermission ToolErrorType = "permission"
	// ErrTypeExecution means the tool itself failed.
	ErrTypeExecution ToolErrorType = "execution"
	// ErrTypeCanceled means the turn was cancelled mid-dispatch.
	ErrTypeCanceled ToolErrorType = "canceled"
	// ErrTypeInternal covers pipeline faults such as hook failures.
	ErrTypeInternal ToolErrorType = "internal"
)

// ToolError is a classified tool dispatch failure.
type ToolError struct {
	Type     ToolErrorType
	ToolName string
	CallID   string
	Message  string
	Err      error
}

// Error implements error.
func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: tool %s: %s: %v", e.Type, e.ToolName, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: tool %s: %s", e.Type, e.ToolName, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError builds a classified failure.
func NewToolError(typ ToolErrorType, toolName, callID, message string, cause error) *ToolError {
	return &ToolError{Type: typ, ToolName: toolName, CallID: callID, Message: message, Err: cause}
}

// ErrorTypeOf extracts the classification from an error chain,
// defaulting to execution.
func ErrorTypeOf(err error) ToolErrorType {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Type
	}
	return ErrTypeExecution
}
