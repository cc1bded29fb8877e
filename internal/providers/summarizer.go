package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/aegis-dev/aegis/internal/agent"
	"github.com/aegis-dev/aegis/pkg/models"
)

const summaryPrompt = "Summarize the following conversation so a model " +
	"can continue it without the original messages. Preserve decisions, " +
	"open tasks, file paths, and tool outcomes. Be concise."

// LLMSummarizer backs budget compaction with a model request.
type LLMSummarizer struct {
	provider  agent.LLMProvider
	model     string
	maxTokens int
}

// NewLLMSummarizer creates a summarizer on the given provider.
func NewLLMSummarizer(provider agent.LLMProvider, model string, maxTokens int) *LLMSummarizer {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &LLMSummarizer{provider: provider, model: model, maxTokens: maxTokens}
}

// Summarize implements budget.Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&transcript, "[%s] %s\n", msg.Role, msg.Content)
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(&transcript, "  tool call %s: %s\n", call.Name, call.Input)
		}
		for _, result := range msg.ToolResults {
			fmt.Fprintf(&transcript, "  tool result: %s\n", result.Content)
		}
	}

	resp, err := s.provider.Complete(ctx, agent.CompletionRequest{
		Model:     s.model,
		System:    summaryPrompt,
		MaxTokens: s.maxTokens,
		Messages: []models.Message{{
			Role:    models.RoleUser,
			Content: transcript.String(),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	return resp.Content, nil
}
