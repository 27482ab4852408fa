package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting process metrics,
// built on Prometheus the way the teacher's own observability package is.
// It tracks:
//   - Run state transitions and outcomes
//   - Policy Gate decisions by reason code
//   - Tool Router dispatch latency and outcomes
//   - Event Store append throughput and chain-verification results
//   - Capability token lifecycle (mint/revoke)
//   - Context Pack Builder budget utilization
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordPolicyDecision("browser.submit_payment", "deny", "P_DENY_PAYMENT_TOOL")
//	defer metrics.ToolExecutionDuration.WithLabelValues("browser.click").Observe(elapsed.Seconds())
type Metrics struct {
	// RunTransitions counts run.state transitions by from/to state.
	RunTransitions *prometheus.CounterVec

	// RunDuration measures a finished run's total wall-clock duration, by outcome.
	// Buckets: 1s, 5s, 15s, 30s, 60s, 120s, 300s, 600s
	RunDuration *prometheus.HistogramVec

	// ActiveRuns is a gauge of runs currently not in a terminal state.
	ActiveRuns prometheus.Gauge

	// PolicyDecisions counts Policy Gate decide() outcomes.
	// Labels: tool, decision (allow|ask|deny), reason_code
	PolicyDecisions *prometheus.CounterVec

	// ToolExecutionCounter counts tool dispatches by tool and outcome.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool round-trip latency in seconds.
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s
	ToolExecutionDuration *prometheus.HistogramVec

	// EventAppends counts Event Store appends by event kind.
	EventAppends *prometheus.CounterVec

	// EventAppendDuration measures append latency, including fsync.
	// Buckets: 0.0005s, 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s
	EventAppendDuration *prometheus.HistogramVec

	// ChainVerifications counts chain verify() passes by result (ok|broken).
	ChainVerifications *prometheus.CounterVec

	// CapabilityTokensIssued counts capability token mints.
	CapabilityTokensIssued prometheus.Counter

	// CapabilityTokensRevoked counts revocations by reason.
	CapabilityTokensRevoked *prometheus.CounterVec

	// ContextPackBudgetUsed tracks fraction of the token budget consumed
	// by an assembled context pack.
	// Buckets: 0.25, 0.5, 0.75, 0.9, 0.95, 1.0
	ContextPackBudgetUsed prometheus.Histogram

	// ContextPackDegradations counts forced re-observe degradations.
	ContextPackDegradations prometheus.Counter

	// AutonomyDowngrades counts forced mode downgrades by from/to.
	AutonomyDowngrades *prometheus.CounterVec

	// ErrorCounter tracks errors by component and taxonomy code.
	// Labels: component (orchestrator|toolrouter|policygate|eventstore|captoken), code
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry, for a single call at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		RunTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_run_transitions_total",
				Help: "Total number of run.state transitions by from and to state",
			},
			[]string{"from", "to"},
		),

		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sidecar_run_duration_seconds",
				Help:    "Wall-clock duration of a run from authorizing to a terminal state",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sidecar_active_runs",
				Help: "Current number of runs not in a terminal state",
			},
		),

		PolicyDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_policy_decisions_total",
				Help: "Total Policy Gate decisions by tool, decision, and reason code",
			},
			[]string{"tool", "decision", "reason_code"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sidecar_tool_execution_duration_seconds",
				Help:    "Duration of tool round trips in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),

		EventAppends: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_event_appends_total",
				Help: "Total Event Store appends by event kind",
			},
			[]string{"kind"},
		),

		EventAppendDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sidecar_event_append_duration_seconds",
				Help:    "Duration of Event Store appends in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"kind"},
		),

		ChainVerifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_chain_verifications_total",
				Help: "Total Event Store chain verify() passes by result",
			},
			[]string{"result"},
		),

		CapabilityTokensIssued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sidecar_capability_tokens_issued_total",
				Help: "Total capability tokens minted",
			},
		),

		CapabilityTokensRevoked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_capability_tokens_revoked_total",
				Help: "Total capability tokens revoked by reason",
			},
			[]string{"reason"},
		),

		ContextPackBudgetUsed: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sidecar_context_pack_budget_fraction",
				Help:    "Fraction of the token budget used by an assembled context pack",
				Buckets: []float64{0.25, 0.5, 0.75, 0.9, 0.95, 1.0},
			},
		),

		ContextPackDegradations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sidecar_context_pack_degradations_total",
				Help: "Total forced re-observe degradations due to a tight budget",
			},
		),

		AutonomyDowngrades: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_autonomy_downgrades_total",
				Help: "Total forced autonomy mode downgrades by from and to mode",
			},
			[]string{"from", "to"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_errors_total",
				Help: "Total errors by component and error taxonomy code",
			},
			[]string{"component", "code"},
		),
	}
}

// RecordRunTransition records a run.state transition.
func (m *Metrics) RecordRunTransition(from, to string) {
	m.RunTransitions.WithLabelValues(from, to).Inc()
}

// RecordRunCompletion records the total duration of a finished run.
func (m *Metrics) RecordRunCompletion(outcome string, durationSeconds float64) {
	m.RunDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordPolicyDecision records one Policy Gate decide() outcome.
func (m *Metrics) RecordPolicyDecision(tool, decision, reasonCode string) {
	m.PolicyDecisions.WithLabelValues(tool, decision, reasonCode).Inc()
}

// RecordToolExecution records one tool dispatch outcome and its latency.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordEventAppend records one Event Store append and its latency.
func (m *Metrics) RecordEventAppend(kind string, durationSeconds float64) {
	m.EventAppends.WithLabelValues(kind).Inc()
	m.EventAppendDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordChainVerification records one verify() pass.
func (m *Metrics) RecordChainVerification(ok bool) {
	result := "ok"
	if !ok {
		result = "broken"
	}
	m.ChainVerifications.WithLabelValues(result).Inc()
}

// RecordCapabilityMint records a capability token mint.
func (m *Metrics) RecordCapabilityMint() {
	m.CapabilityTokensIssued.Inc()
}

// RecordCapabilityRevoke records a capability token revocation.
func (m *Metrics) RecordCapabilityRevoke(reason string) {
	m.CapabilityTokensRevoked.WithLabelValues(reason).Inc()
}

// RecordContextPackBudget records the fraction of budget an assembled
// context pack consumed, and whether that assembly degraded.
func (m *Metrics) RecordContextPackBudget(fractionUsed float64, degraded bool) {
	m.ContextPackBudgetUsed.Observe(fractionUsed)
	if degraded {
		m.ContextPackDegradations.Inc()
	}
}

// RecordAutonomyDowngrade records a forced mode downgrade.
func (m *Metrics) RecordAutonomyDowngrade(from, to string) {
	m.AutonomyDowngrades.WithLabelValues(from, to).Inc()
}

// RecordError increments the error counter for a component and taxonomy code.
func (m *Metrics) RecordError(component, code string) {
	m.ErrorCounter.WithLabelValues(component, code).Inc()
}
