package agent

import (
	"context"

	"github.com/aegis-dev/aegis/internal/tools"
	"github.com/aegis-dev/aegis/pkg/models"
)

// CompletionRequest is one model invocation.
type CompletionRequest struct {
	SessionID string
	Model     string
	System    string
	Messages  []models.Message
	Tools     []tools.Definition
	MaxTokens int
}

// CompletionResponse is the model's reply for one iteration of the
// turn loop. A reply with tool calls keeps the loop going; one without
// ends the turn.
type CompletionResponse struct {
	Content   string
	Reasoning string
	ToolCalls []models.ToolCall
	Usage     models.TokenUsage
	Model     string
}

// LLMProvider abstracts a model backend.
type LLMProvider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Complete performs one model invocation.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ContextWindow returns the model's context size in tokens, or 0
	// when unknown.
	ContextWindow(model string) int
}
