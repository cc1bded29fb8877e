package budget

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aegis-dev/aegis/internal/observability"
	"github.com/aegis-dev/aegis/pkg/models"
)

// MonitorConfig tunes the budget monitor.
type MonitorConfig struct {
	// MaxContextTokens is the operator's context window. When set it
	// overrides the model's native window so compaction can be forced
	// earlier. Zero falls back to the per-check native window; when both
	// are zero monitoring is disabled.
	MaxContextTokens int `json:"max_context_tokens" yaml:"max_context_tokens"`

	// ThresholdPercent triggers compaction when
	// estimated/max >= ThresholdPercent. Values outside [0.1, 1.0] are
	// clamped; zero means the 0.9 default.
	ThresholdPercent float64 `json:"threshold_percent" yaml:"threshold_percent"`
}

// DefaultMonitorConfig returns the monitor defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		MaxContextTokens: 200_000,
		ThresholdPercent: 0.9,
	}
}

func (c MonitorConfig) threshold() float64 {
	t := c.ThresholdPercent
	if t == 0 {
		t = 0.9
	}
	if t < 0.1 {
		t = 0.1
	}
	if t > 1.0 {
		t = 1.0
	}
	return t
}

// Outcome reports one monitor check.
type Outcome struct {
	// Triggered means the threshold was reached.
	Triggered bool

	// Compacted means the strategy actually changed the history.
	Compacted bool

	// EstimatedBefore and EstimatedAfter are token estimates around the
	// compaction. Equal when nothing changed.
	EstimatedBefore int
	EstimatedAfter  int

	// Strategy is the strategy name, set when Triggered.
	Strategy string

	// Messages is the (possibly replaced) history.
	Messages []models.Message
}

// Monitor checks the token budget before each model request and runs
// the compaction strategy synchronously when the threshold is reached.
type Monitor struct {
	cfg       MonitorConfig
	estimator TokenEstimator
	strategy  Strategy
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewMonitor wires the monitor. A nil estimator uses the heuristic, a
// nil strategy means noop.
func NewMonitor(cfg MonitorConfig, estimator TokenEstimator, strategy Strategy, logger *slog.Logger, metrics *observability.Metrics) *Monitor {
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}
	if strategy == nil {
		strategy = NoopStrategy{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		estimator: estimator,
		strategy:  strategy,
		metrics:   metrics,
		logger:    logger.With("component", "budget-monitor"),
	}
}

// Check estimates the history's footprint and compacts when the
// threshold is reached. nativeWindow is the model's own context window;
// it applies only when MaxContextTokens is not configured, so an
// operator setting always wins.
func (m *Monitor) Check(ctx context.Context, messages []models.Message, nativeWindow int) (*Outcome, error) {
	max := m.cfg.MaxContextTokens
	if max <= 0 {
		max = nativeWindow
	}

	before := m.estimator.EstimateTokens(messages)
	out := &Outcome{
		EstimatedBefore: before,
		EstimatedAfter:  before,
		Messages:        messages,
	}
	if max <= 0 {
		return out, nil
	}

	// Inclusive comparison: estimated/max == threshold triggers.
	if float64(before)/float64(max) < m.cfg.threshold() {
		return out, nil
	}
	out.Triggered = true
	out.Strategy = m.strategy.Name()

	m.logger.Info("token budget threshold reached",
		"estimated", before,
		"max", max,
		"threshold", m.cfg.threshold(),
		"strategy", out.Strategy)

	compacted, err := m.strategy.Compact(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("compaction strategy %s: %w", out.Strategy, err)
	}

	after := before
	if changed(messages, compacted) {
		after = m.estimator.EstimateTokens(compacted)
		out.Compacted = true
		out.Messages = compacted
		out.EstimatedAfter = after

		if m.metrics != nil {
			m.metrics.CompactionCounter.WithLabelValues(out.Strategy).Inc()
			if reclaimed := before - after; reclaimed > 0 {
				m.metrics.CompactionTokensReclaimed.Add(float64(reclaimed))
			}
		}
		m.logger.Info("history compacted",
			"strategy", out.Strategy,
			"tokens_before", before,
			"tokens_after", after,
			"messages_before", len(messages),
			"messages_after", len(compacted))
	}
	return out, nil
}

// Event converts a compaction outcome into a runtime event for the
// session's event stream.
func (o *Outcome) Event(sessionID string) *models.RuntimeEvent {
	return models.NewEvent(models.EventContextCompacted).
		WithSession(sessionID).
		WithMeta("strategy", o.Strategy).
		WithMeta("tokens_before", o.EstimatedBefore).
		WithMeta("tokens_after", o.EstimatedAfter)
}

func changed(before, after []models.Message) bool {
	if len(before) != len(after) {
		return true
	}
	for i := range before {
		if before[i].ID != after[i].ID {
			return true
		}
	}
	return false
}
