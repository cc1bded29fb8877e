package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects pipeline metrics.
//
// The metrics system is built on Prometheus and tracks tool dispatch
// outcomes, approval decisions, hook pipeline executions, history
// compactions, and LLM request performance.
type Metrics struct {
	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|denied|timeout|canceled)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalDecisionCounter counts approval resolutions.
	// Labels: decision (approved|denied|timed_out|cancelled|auto_approved)
	ApprovalDecisionCounter *prometheus.CounterVec

	// HookExecutionCounter counts hook handler runs.
	// Labels: point, outcome (ok|modified|cancelled|error)
	HookExecutionCounter *prometheus.CounterVec

	// CompactionCounter counts history compactions.
	// Labels: strategy
	CompactionCounter *prometheus.CounterVec

	// CompactionTokensReclaimed tracks tokens removed by compaction.
	CompactionTokensReclaimed prometheus.Counter

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return newMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics registered with a custom registry.
// Used in tests to avoid duplicate registration panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWith(reg)
}

func newMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_tool_executions_total",
			Help: "Total number of tool executions by tool and status.",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_tool_execution_duration_seconds",
			Help:    "Tool execution latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		ApprovalDecisionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_approval_decisions_total",
			Help: "Total number of approval request resolutions by decision.",
		}, []string{"decision"}),

		HookExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_hook_executions_total",
			Help: "Total number of hook handler executions by point and outcome.",
		}, []string{"point", "outcome"}),

		CompactionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_compactions_total",
			Help: "Total number of history compactions by strategy.",
		}, []string{"strategy"}),

		CompactionTokensReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_compaction_tokens_reclaimed_total",
			Help: "Estimated tokens removed from history by compaction.",
		}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_llm_request_duration_seconds",
			Help:    "LLM API call latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_llm_tokens_used_total",
			Help: "Token consumption by provider, model, and type.",
		}, []string{"provider", "model", "type"}),
	}
}
