package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := &Metrics{
		RunTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_run_transitions_total"}, []string{"from", "to"}),
		RunDuration:    prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "t_run_duration_seconds"}, []string{"outcome"}),
		ActiveRuns:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "t_active_runs"}),
		PolicyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_policy_decisions_total"},
			[]string{"tool", "decision", "reason_code"}),
		ToolExecutionCounter:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_tool_executions_total"}, []string{"tool", "status"}),
		ToolExecutionDuration:   prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "t_tool_execution_duration_seconds"}, []string{"tool"}),
		EventAppends:            prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_event_appends_total"}, []string{"kind"}),
		EventAppendDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "t_event_append_duration_seconds"}, []string{"kind"}),
		ChainVerifications:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_chain_verifications_total"}, []string{"result"}),
		CapabilityTokensIssued:  prometheus.NewCounter(prometheus.CounterOpts{Name: "t_capability_tokens_issued_total"}),
		CapabilityTokensRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_capability_tokens_revoked_total"}, []string{"reason"}),
		ContextPackBudgetUsed:   prometheus.NewHistogram(prometheus.HistogramOpts{Name: "t_context_pack_budget_fraction"}),
		ContextPackDegradations: prometheus.NewCounter(prometheus.CounterOpts{Name: "t_context_pack_degradations_total"}),
		AutonomyDowngrades:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_autonomy_downgrades_total"}, []string{"from", "to"}),
		ErrorCounter:            prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_errors_total"}, []string{"component", "code"}),
	}
	reg.MustRegister(
		m.RunTransitions, m.RunDuration, m.ActiveRuns, m.PolicyDecisions,
		m.ToolExecutionCounter, m.ToolExecutionDuration, m.EventAppends,
		m.EventAppendDuration, m.ChainVerifications, m.CapabilityTokensIssued,
		m.CapabilityTokensRevoked, m.ContextPackBudgetUsed, m.ContextPackDegradations,
		m.AutonomyDowngrades, m.ErrorCounter,
	)
	return m
}

func TestRecordRunTransitionAndCompletion(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordRunTransition("observing", "planning")
	m.RecordRunTransition("observing", "planning")
	m.RecordRunCompletion("completed", 12.5)

	if count := testutil.CollectAndCount(m.RunTransitions); count != 1 {
		t.Errorf("expected 1 label combination, got %d", count)
	}
	if got := testutil.ToFloat64(m.RunTransitions.WithLabelValues("observing", "planning")); got != 2 {
		t.Errorf("expected counter value 2, got %v", got)
	}
}

func TestRecordPolicyDecision(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordPolicyDecision("browser.click", "deny", "P_DENY_CREDENTIAL_FIELD")
	m.RecordPolicyDecision("browser.click", "deny", "P_DENY_CREDENTIAL_FIELD")
	m.RecordPolicyDecision("browser.navigate", "allow", "P_MATRIX_ALLOW")

	if got := testutil.ToFloat64(m.PolicyDecisions.WithLabelValues("browser.click", "deny", "P_DENY_CREDENTIAL_FIELD")); got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordToolExecution("browser.click", "success", 0.25)
	m.RecordToolExecution("browser.click", "error", 1.0)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("browser.click", "success")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestRecordEventAppendAndChainVerification(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordEventAppend("tool.request", 0.001)
	m.RecordChainVerification(true)
	m.RecordChainVerification(false)

	if got := testutil.ToFloat64(m.ChainVerifications.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 ok verification, got %v", got)
	}
	if got := testutil.ToFloat64(m.ChainVerifications.WithLabelValues("broken")); got != 1 {
		t.Errorf("expected 1 broken verification, got %v", got)
	}
}

func TestRecordCapabilityLifecycle(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordCapabilityMint()
	m.RecordCapabilityMint()
	m.RecordCapabilityRevoke("document_change")

	if got := testutil.ToFloat64(m.CapabilityTokensIssued); got != 2 {
		t.Errorf("expected 2 mints, got %v", got)
	}
	if got := testutil.ToFloat64(m.CapabilityTokensRevoked.WithLabelValues("document_change")); got != 1 {
		t.Errorf("expected 1 revocation, got %v", got)
	}
}

func TestRecordContextPackBudget(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordContextPackBudget(0.92, true)
	m.RecordContextPackBudget(0.4, false)

	if got := testutil.ToFloat64(m.ContextPackDegradations); got != 1 {
		t.Errorf("expected 1 degradation, got %v", got)
	}
}

func TestRecordAutonomyDowngrade(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordAutonomyDowngrade("autopilot", "assist")

	if got := testutil.ToFloat64(m.AutonomyDowngrades.WithLabelValues("autopilot", "assist")); got != 1 {
		t.Errorf("expected 1 downgrade, got %v", got)
	}
}

func TestRecordError(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordError("toolrouter", "stale_handle")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("toolrouter", "stale_handle")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}
