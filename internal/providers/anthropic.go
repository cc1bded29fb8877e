// Package providers implements agent.LLMProvider for Anthropic and
// OpenAI-compatible backends.
package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aegis-dev/aegis/internal/agent"
	"github.com/aegis-dev/aegis/internal/tools"
	"github.com/aegis-dev/aegis/pkg/models"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`

	// ContextWindows maps model names to context sizes; unlisted models
	// fall back to DefaultContextWindow.
	ContextWindows       map[string]int `yaml:"context_windows,omitempty"`
	DefaultContextWindow int            `yaml:"default_context_window,omitempty"`
}

// AnthropicProvider is the Claude backend.
type AnthropicProvider struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicProvider creates the provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.DefaultContextWindow <= 0 {
		cfg.DefaultContextWindow = 200_000
	}
	return &AnthropicProvider{client: anthropic.NewClient(options...), cfg: cfg}, nil
}

// Name implements agent.LLMProvider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// ContextWindow implements agent.LLMProvider.
func (p *AnthropicProvider) ContextWindow(model string) int {
	if window, ok := p.cfg.ContextWindows[model]; ok {
		return window
	}
	return p.cfg.DefaultContextWindow
}

// Complete implements agent.LLMProvider.
func (p *AnthropicProvider) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.CompletionResponse, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		toolParams, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = toolParams
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}

	resp := &agent.CompletionResponse{
		Model: string(message.Model),
		Usage: models.TokenUsage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ThinkingBlock:
			resp.Reasoning += variant.Thinking
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Input:     json.RawMessage(variant.JSON.Input.Raw()),
				SessionID: req.SessionID,
			})
		}
	}
	return resp, nil
}

func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			var input any
			if len(call.Input) > 0 {
				if err := json.Unmarshal(call.Input, &input); err != nil {
					return nil, fmt.Errorf("tool call %s input: %w", call.ID, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		for _, result := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(result.ToolCallID, result.Content, result.IsError))
		}
		if len(content) == 0 {
			continue
		}

		switch msg.Role {
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(content...))
		case models.RoleSystem:
			// System text travels in the request's system field; a
			// compaction summary rides along as a user block instead.
			out = append(out, anthropic.NewUserMessage(content...))
		default:
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertAnthropicTools(defs []tools.Definition) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("invalid schema for tool %s: %w", def.Name, err)
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		out = append(out, param)
	}
	return out, nil
}
