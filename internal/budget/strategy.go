package budget

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-dev/aegis/pkg/models"
)

// Strategy compacts a message history. Implementations must be
// idempotent: applied to an already-compacted history under the
// threshold, they return it unchanged.
type Strategy interface {
	// Name identifies the strategy in config, logs and events.
	Name() string

	// Compact returns the replacement history. Returning the input
	// slice unchanged signals nothing was done.
	Compact(ctx context.Context, messages []models.Message) ([]models.Message, error)
}

// NoopStrategy never compacts. Used when an operator wants monitoring
// signals without automatic history rewrites.
type NoopStrategy struct{}

// Name implements Strategy.
func (NoopStrategy) Name() string { return "noop" }

// Compact implements Strategy.
func (NoopStrategy) Compact(ctx context.Context, messages []models.Message) ([]models.Message, error) {
	return messages, nil
}

// Summarizer produces a prose summary of dropped messages. The LLM
// provider normally backs this; tests supply a stub.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, messages []models.Message) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	return f(ctx, messages)
}

// ReactiveOverflowConfig tunes the reactive-overflow strategy.
type ReactiveOverflowConfig struct {
	// PreserveLastNTurns keeps this many trailing messages verbatim.
	PreserveLastNTurns int `json:"preserve_last_n_turns" yaml:"preserve_last_n_turns"`
}

// DefaultReactiveOverflowConfig returns the strategy defaults.
func DefaultReactiveOverflowConfig() ReactiveOverflowConfig {
	return ReactiveOverflowConfig{PreserveLastNTurns: 10}
}

// ReactiveOverflow replaces everything except the last N messages with
// exactly one summary message. Earlier summary messages fold into the
// new one, so repeated compactions never stack summaries.
type ReactiveOverflow struct {
	cfg        ReactiveOverflowConfig
	summarizer Summarizer
}

// NewReactiveOverflow creates the strategy. A nil summarizer falls back
// to a structural digest of the dropped messages.
func NewReactiveOverflow(cfg ReactiveOverflowConfig, summarizer Summarizer) *ReactiveOverflow {
	if cfg.PreserveLastNTurns <= 0 {
		cfg.PreserveLastNTurns = DefaultReactiveOverflowConfig().PreserveLastNTurns
	}
	return &ReactiveOverflow{cfg: cfg, summarizer: summarizer}
}

// Name implements Strategy.
func (s *ReactiveOverflow) Name() string { return "reactive-overflow" }

// Compact implements Strategy.
func (s *ReactiveOverflow) Compact(ctx context.Context, messages []models.Message) ([]models.Message, error) {
	if len(messages) <= s.cfg.PreserveLastNTurns {
		return messages, nil
	}

	cut := len(messages) - s.cfg.PreserveLastNTurns
	dropped := messages[:cut]
	kept := messages[cut:]

	summaryText, err := s.summarize(ctx, dropped)
	if err != nil {
		return nil, fmt.Errorf("summarize dropped history: %w", err)
	}

	sessionID := ""
	if len(messages) > 0 {
		sessionID = messages[0].SessionID
	}
	summary := models.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   summaryText,
		Metadata:  map[string]any{"summary": true, "replaced_messages": len(dropped)},
		CreatedAt: time.Now(),
	}

	out := make([]models.Message, 0, len(kept)+1)
	out = append(out, summary)
	out = append(out, kept...)
	return out, nil
}

func (s *ReactiveOverflow) summarize(ctx context.Context, dropped []models.Message) (string, error) {
	if s.summarizer != nil {
		return s.summarizer.Summarize(ctx, dropped)
	}
	return structuralDigest(dropped), nil
}

// structuralDigest is the fallback when no LLM summarizer is wired: it
// lists the turns and tool calls that were removed.
func structuralDigest(messages []models.Message) string {
	var b strings.Builder
	b.WriteString("Earlier conversation compacted. Removed turns:\n")
	for _, msg := range messages {
		if msg.IsSummary() {
			// Fold a previous summary in verbatim rather than nesting.
			b.WriteString(msg.Content)
			b.WriteString("\n")
			continue
		}
		line := msg.Content
		const maxLine = 120
		if len(line) > maxLine {
			line = line[:maxLine] + "..."
		}
		fmt.Fprintf(&b, "- [%s] %s", msg.Role, line)
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(&b, " (tool: %s)", call.Name)
		}
		b.WriteString("\n")
	}
	return b.String()
}
