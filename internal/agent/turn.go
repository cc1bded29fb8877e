package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-dev/aegis/internal/budget"
	"github.com/aegis-dev/aegis/internal/hooks"
	"github.com/aegis-dev/aegis/internal/observability"
	"github.com/aegis-dev/aegis/pkg/models"
)

// HistoryStore persists session message history. The sessions package
// provides memory and SQLite implementations.
type HistoryStore interface {
	AppendMessage(ctx context.Context, msg models.Message) error
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	ReplaceMessages(ctx context.Context, sessionID string, msgs []models.Message) error
}

// RunnerConfig tunes the turn loop.
type RunnerConfig struct {
	// Model passed to the provider.
	Model string

	// SystemPrompt prepended to every request.
	SystemPrompt string

	// MaxIterations bounds model round-trips within one turn.
	MaxIterations int

	// MaxTokens caps each completion.
	MaxTokens int
}

// DefaultRunnerConfig returns the runner defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxIterations: 20,
		MaxTokens:     4096,
	}
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	Response   string
	Reasoning  string
	Iterations int
	Usage      models.TokenUsage
	Compacted  bool
}

// Runner drives one turn: budget check, beforeLLMRequest hooks, model
// call, governed tool dispatch for each requested call, repeated until
// the model answers without tools, then beforeResponse hooks.
type Runner struct {
	cfg        RunnerConfig
	provider   LLMProvider
	dispatcher *Dispatcher
	hooks      *hooks.Registry
	monitor    *budget.Monitor
	history    HistoryStore
	sink       EventSink
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewRunner wires a turn runner. monitor and sink may be nil.
func NewRunner(cfg RunnerConfig, provider LLMProvider, dispatcher *Dispatcher, hookReg *hooks.Registry, monitor *budget.Monitor, history HistoryStore, sink EventSink, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultRunnerConfig().MaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = EventSinkFunc(func(*models.RuntimeEvent) {})
	}
	return &Runner{
		cfg:        cfg,
		provider:   provider,
		dispatcher: dispatcher,
		hooks:      hookReg,
		monitor:    monitor,
		history:    history,
		sink:       sink,
		metrics:    metrics,
		logger:     logger.With("component", "turn-runner"),
	}
}

// RunTurn processes one user message to completion.
func (r *Runner) RunTurn(ctx context.Context, sessionID, userText string) (*TurnResult, error) {
	ctx = observability.AddSessionID(ctx, sessionID)
	execCtx := &hooks.ExecContext{SessionID: sessionID, Logger: r.logger}

	r.sink.Emit(models.NewEvent(models.EventTurnStarted).WithSession(sessionID))

	userMsg := models.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   userText,
		CreatedAt: time.Now(),
	}
	if err := r.history.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	result := &TurnResult{}
	for iteration := 0; iteration < r.cfg.MaxIterations; iteration++ {
		result.Iterations = iteration + 1

		// Hooks come first: a cancelled request must leave the stored
		// history untouched, compaction included.
		effectiveText, err := r.runBeforeLLMHooks(ctx, execCtx, sessionID, userText)
		if err != nil {
			return nil, err
		}

		messages, err := r.history.Messages(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}

		messages, compacted, err := r.checkBudget(ctx, sessionID, messages)
		if err != nil {
			return nil, err
		}
		result.Compacted = result.Compacted || compacted

		if effectiveText != userText {
			rewriteLastUserMessage(messages, effectiveText)
		}

		resp, err := r.complete(ctx, sessionID, messages)
		if err != nil {
			return nil, fmt.Errorf("model request: %w", err)
		}
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens

		assistantMsg := models.Message{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			Reasoning: resp.Reasoning,
			ToolCalls: resp.ToolCalls,
			CreatedAt: time.Now(),
		}

		if len(resp.ToolCalls) == 0 {
			content, err := r.runBeforeResponseHooks(ctx, execCtx, sessionID, resp)
			if err != nil {
				return nil, err
			}
			assistantMsg.Content = content
			if err := r.history.AppendMessage(ctx, assistantMsg); err != nil {
				return nil, fmt.Errorf("append assistant message: %w", err)
			}

			result.Response = content
			result.Reasoning = resp.Reasoning
			r.sink.Emit(models.NewEvent(models.EventTurnCompleted).
				WithSession(sessionID).
				WithMeta("iterations", result.Iterations))
			return result, nil
		}

		if err := r.history.AppendMessage(ctx, assistantMsg); err != nil {
			return nil, fmt.Errorf("append assistant message: %w", err)
		}

		for _, call := range resp.ToolCalls {
			r.sink.Emit(models.NewToolEvent(models.EventToolCall, call.Name, call.ID).WithSession(sessionID))
		}
		toolResults := r.dispatcher.DispatchAll(ctx, execCtx, withSession(resp.ToolCalls, sessionID))

		resultMsg := models.Message{
			ID:          uuid.New().String(),
			SessionID:   sessionID,
			Role:        models.RoleTool,
			ToolResults: toolResults,
			CreatedAt:   time.Now(),
		}
		if err := r.history.AppendMessage(ctx, resultMsg); err != nil {
			return nil, fmt.Errorf("append tool results: %w", err)
		}
	}

	return nil, fmt.Errorf("turn exceeded %d iterations without a final response", r.cfg.MaxIterations)
}

func (r *Runner) checkBudget(ctx context.Context, sessionID string, messages []models.Message) ([]models.Message, bool, error) {
	if r.monitor == nil {
		return messages, false, nil
	}

	outcome, err := r.monitor.Check(ctx, messages, r.provider.ContextWindow(r.cfg.Model))
	if err != nil {
		return nil, false, fmt.Errorf("budget check: %w", err)
	}
	if !outcome.Compacted {
		return messages, false, nil
	}

	if err := r.history.ReplaceMessages(ctx, sessionID, outcome.Messages); err != nil {
		return nil, false, fmt.Errorf("persist compacted history: %w", err)
	}
	r.sink.Emit(outcome.Event(sessionID))
	return outcome.Messages, true, nil
}

// runBeforeLLMHooks returns the request text the provider should see:
// the merged pipeline output when a hook modified it, the original
// otherwise.
func (r *Runner) runBeforeLLMHooks(ctx context.Context, execCtx *hooks.ExecContext, sessionID, userText string) (string, error) {
	if r.hooks == nil {
		return userText, nil
	}
	exec, err := r.hooks.Execute(ctx, hooks.BeforeLLMRequest, hooks.NewLLMRequestPayload(userText, nil, nil, sessionID), execCtx)
	if err != nil {
		if hooks.IsBlocked(err) {
			return "", fmt.Errorf("request blocked: %w", err)
		}
		return "", fmt.Errorf("beforeLLMRequest hook: %w", err)
	}
	if modified, ok := exec.Payload[hooks.KeyText].(string); ok {
		return modified, nil
	}
	return userText, nil
}

// rewriteLastUserMessage applies hook-modified request text to the
// outgoing copy of the history. The stored history keeps the original.
func rewriteLastUserMessage(messages []models.Message, text string) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			messages[i].Content = text
			return
		}
	}
}

// runBeforeResponseHooks gives hooks a final look at the assistant's
// prose. A blocked or failed chain ends the turn without a response.
func (r *Runner) runBeforeResponseHooks(ctx context.Context, execCtx *hooks.ExecContext, sessionID string, resp *CompletionResponse) (string, error) {
	if r.hooks == nil {
		return resp.Content, nil
	}

	payload := hooks.NewResponsePayload(resp.Content, resp.Reasoning, r.provider.Name(), r.cfg.Model, &resp.Usage, sessionID)
	exec, err := r.hooks.Execute(ctx, hooks.BeforeResponse, payload, execCtx)
	if err != nil {
		if hooks.IsBlocked(err) {
			return "", fmt.Errorf("response blocked: %w", err)
		}
		return "", fmt.Errorf("beforeResponse hook: %w", err)
	}
	if modified, ok := exec.Payload[hooks.KeyContent].(string); ok {
		return modified, nil
	}
	return resp.Content, nil
}

func (r *Runner) complete(ctx context.Context, sessionID string, messages []models.Message) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := r.provider.Complete(ctx, CompletionRequest{
		SessionID: sessionID,
		Model:     r.cfg.Model,
		System:    r.cfg.SystemPrompt,
		Messages:  messages,
		Tools:     r.dispatcher.resolver.Definitions(),
		MaxTokens: r.cfg.MaxTokens,
	})
	if r.metrics != nil {
		r.metrics.LLMRequestDuration.WithLabelValues(r.provider.Name(), r.cfg.Model).Observe(time.Since(start).Seconds())
		if resp != nil {
			r.metrics.LLMTokensUsed.WithLabelValues(r.provider.Name(), r.cfg.Model, "input").Add(float64(resp.Usage.InputTokens))
			r.metrics.LLMTokensUsed.WithLabelValues(r.provider.Name(), r.cfg.Model, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}
	return resp, err
}

func withSession(calls []models.ToolCall, sessionID string) []models.ToolCall {
	out := make([]models.ToolCall, len(calls))
	for i, call := range calls {
		call.SessionID = sessionID
		out[i] = call
	}
	return out
}
