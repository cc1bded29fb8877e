// Package budget watches a session's token footprint against the model
// context window and compacts history synchronously when the configured
// threshold is reached.
package budget

import (
	"github.com/aegis-dev/aegis/pkg/models"
)

// TokenEstimator estimates how many tokens a message history consumes.
// The estimator is injected so tests and providers with exact counters
// can replace the heuristic.
type TokenEstimator interface {
	EstimateTokens(messages []models.Message) int
}

// HeuristicEstimator approximates tokens from character counts. Four
// characters per token tracks English prose closely enough for budget
// decisions that only need to be right near the threshold.
type HeuristicEstimator struct {
	// CharsPerToken defaults to 4 when zero.
	CharsPerToken int

	// PerMessageOverhead accounts for role and framing tokens.
	PerMessageOverhead int
}

// EstimateTokens implements TokenEstimator.
func (e HeuristicEstimator) EstimateTokens(messages []models.Message) int {
	charsPerToken := e.CharsPerToken
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	overhead := e.PerMessageOverhead
	if overhead <= 0 {
		overhead = 4
	}

	total := 0
	for _, msg := range messages {
		chars := len(msg.Content) + len(msg.Reasoning)
		for _, call := range msg.ToolCalls {
			chars += len(call.Name) + len(call.Input)
		}
		for _, result := range msg.ToolResults {
			chars += len(result.Content)
		}
		total += chars/charsPerToken + overhead
	}
	return total
}

// FixedEstimator returns a constant, used in tests.
type FixedEstimator int

// EstimateTokens implements TokenEstimator.
func (f FixedEstimator) EstimateTokens([]models.Message) int { return int(f) }
