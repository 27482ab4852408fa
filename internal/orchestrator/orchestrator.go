// Package orchestrator implements the observe -> plan -> gate -> act ->
// verify loop and run state machine of spec §4.6. It is the top-level
// caller in the dependency chain (Orchestrator -> Context Pack Builder,
// Policy Gate, Tool Router -> Event Store, Capability Tokens).
//
// The loop generalizes the teacher's internal/agent/loop.go AgenticLoop.Run:
// the same state-machine-as-goroutine shape, with LoopPhase
// (Init/Stream/ExecuteTools/Continue/Complete) replaced by the run's
// model.RunState (idle/authorizing/observing/planning/awaiting_approval/
// executing/verifying/paused/takeover/completed/cancelled/failed), and
// every transition persisted as a run.state event instead of only held in
// an in-memory LoopState.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/sidecar/internal/audit"
	"github.com/haasonsaas/sidecar/internal/captoken"
	"github.com/haasonsaas/sidecar/internal/config"
	"github.com/haasonsaas/sidecar/internal/contextpack"
	"github.com/haasonsaas/sidecar/internal/eventstore"
	"github.com/haasonsaas/sidecar/internal/observability"
	"github.com/haasonsaas/sidecar/internal/policygate"
	"github.com/haasonsaas/sidecar/internal/toolrouter"
	"github.com/haasonsaas/sidecar/pkg/model"
)

// Emitter fans a run's UI-facing state out to subscribers as a ui.state
// payload. internal/bridge provides the in-process implementation; tests
// may use a nil Emitter (EmitState is always guarded against it).
type Emitter interface {
	EmitState(ctx context.Context, view model.RunStateView)
}

// Config wires every collaborator the Orchestrator drives.
type Config struct {
	Store      eventstore.Store
	Tokens     *captoken.Service
	Gate       *policygate.Gate
	Router     *toolrouter.Router
	Planner    Planner
	Observer   Observer
	Audit      *audit.Logger
	Metrics    *observability.Metrics
	Emitter    Emitter
	Step       config.StepConfig
	ToolSchemas func() []string // allowed tool names offered to the planner/token mint

	// OriginLabels holds durable per-origin user labels (spec §4.3: "user
	// label wins" over the heuristic) and CuratedSensitiveOrigins is the
	// optional signed curated list consulted after the heuristic.
	OriginLabels            map[string]model.OriginClass
	CuratedSensitiveOrigins map[string]bool

	ContextBudgetTokens int
	MaxSteps            int // 0 means DefaultMaxSteps
	TokenTTL            time.Duration
}

const DefaultMaxSteps = 25

// Orchestrator drives one run at a time through Execute; it holds no
// per-run mutable state of its own, only its collaborators, so a single
// Orchestrator value safely drives many concurrent runs (one goroutine per
// run, each with its own RunRequest).
type Orchestrator struct {
	cfg Config
}

// New builds an Orchestrator from cfg, applying sensible defaults for
// anything the caller left zero.
func New(cfg Config) *Orchestrator {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.ContextBudgetTokens <= 0 {
		cfg.ContextBudgetTokens = 8000
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * time.Second
	}
	return &Orchestrator{cfg: cfg}
}

// RunRequest starts or resumes one run.
type RunRequest struct {
	RunID   string
	Binding model.Binding // zero NavigationGen/DocumentID is fine; Observe fills them in
	Goal    string
	// CrossSiteGrants seeds the run's durable user.cross_site_intent
	// grants, e.g. folded from a prior segment's events by Resume.
	CrossSiteGrants []model.CrossSiteGrant
}

// runCtx is the Orchestrator's working state for one Execute call. It is
// never shared across goroutines; fields that must survive a resume are
// the ones folded from events in resume.go.
type runCtx struct {
	req           RunRequest
	binding       model.Binding
	mode          model.Mode
	state         model.RunState
	stepTrail     []contextpack.StepTrailEntry
	checkpoints   []model.CheckpointPayload
	grants        []model.CrossSiteGrant
	retries       int
	downgraded    bool
	lastObs       *model.Observation
	lastReason    string
	eventsSinceCP int
}

// Execute drives req's run through observe -> plan -> gate -> act -> verify
// until it reaches a terminal state, pauses, or ctx is cancelled. The
// error is non-nil only when the run failed; a non-terminal return
// (paused, awaiting_approval, takeover) is reported via the returned
// model.RunState, not an error.
func (o *Orchestrator) Execute(ctx context.Context, req RunRequest) (model.RunState, error) {
	if o.cfg.Planner == nil {
		return model.RunStateFailed, ErrNoPlanner
	}
	if o.cfg.Observer == nil {
		return model.RunStateFailed, ErrNoObserver
	}

	rc := &runCtx{
		req:     req,
		binding: req.Binding,
		mode:    req.Binding.Mode,
		state:   model.RunStateIdle,
		grants:  req.CrossSiteGrants,
	}
	if rc.mode == "" {
		rc.mode = model.ModeAssist
	}

	if err := o.appendEvent(ctx, req.RunID, model.EventUserMessage, struct {
		Goal string `json:"goal"`
	}{Goal: req.Goal}); err != nil {
		return model.RunStateFailed, err
	}

	o.transition(ctx, rc, model.RunStateObserving, "user.message")

	for step := 0; step < o.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			o.transition(ctx, rc, model.RunStateCancelled, "context_cancelled")
			return model.RunStateCancelled, nil
		}

		next, err := o.step(ctx, rc)
		if err != nil {
			o.recordError(ctx, rc, err)
			o.transition(ctx, rc, model.RunStateFailed, err.Error())
			return model.RunStateFailed, err
		}
		rc.state = next
		if next.Terminal() || next == model.RunStatePaused || next == model.RunStateAwaitingApprove || next == model.RunStateTakeover {
			return next, nil
		}
	}

	o.transition(ctx, rc, model.RunStateCompleted, "max_steps_reached")
	return model.RunStateCompleted, nil
}

// step runs exactly one observe -> plan -> gate -> act -> verify cycle and
// returns the RunState to continue from.
func (o *Orchestrator) step(ctx context.Context, rc *runCtx) (model.RunState, error) {
	obs, err := o.observe(ctx, rc)
	if err != nil {
		return model.RunStatePaused, nil // Unavailable and friends pause rather than fail the run outright
	}
	rc.lastObs = obs
	rc.binding.DocumentID = obs.DocumentID
	rc.binding.NavigationGen = obs.NavigationGen

	if suspect, signal := detectInjectionSignals(obs); suspect && !rc.downgraded {
		rc.mode = rc.mode.Downgrade()
		rc.downgraded = true
		if o.cfg.Audit != nil {
			o.cfg.Audit.LogInjectionSuspect(ctx, rc.req.RunID, signal)
			o.cfg.Audit.LogAutonomyDowngrade(ctx, rc.req.RunID, string(rc.binding.Mode), string(rc.mode), "injection_suspect")
		}
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordAutonomyDowngrade(string(rc.binding.Mode), string(rc.mode))
		}
		rc.binding.Mode = rc.mode
	}

	o.transition(ctx, rc, model.RunStatePlanning, "observed")

	allowedTools := o.allowedTools()
	token, err := o.cfg.Tokens.Mint(rc.binding, allowedTools, o.cfg.TokenTTL)
	if err != nil {
		return model.RunStateFailed, err
	}
	if o.cfg.Audit != nil {
		o.cfg.Audit.LogCapabilityMint(ctx, rc.req.RunID, token.Claims.KeyID, allowedTools)
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordCapabilityMint()
	}

	pack := contextpack.Build(contextpack.Input{
		Goal:         rc.req.Goal,
		Observation:  obs,
		StepTrail:    rc.stepTrail,
		Checkpoints:  rc.checkpoints,
		Mode:         rc.mode,
		AllowedTools: allowedTools,
		BudgetTokens: o.cfg.ContextBudgetTokens,
	})
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordContextPackBudget(float64(pack.TokensUsed)/float64(pack.TokensBudget), pack.Degraded)
	}
	if pack.Degraded {
		// A degraded pack sends the run back to observing rather than
		// letting a potentially ungrounded plan proceed. The next observe
		// uses the same binding; nothing narrows its scope.
		return model.RunStateObserving, nil
	}

	plannerCtx := ctx
	var cancel context.CancelFunc
	if d := o.cfg.Step.PlannerDeadline(); d > 0 {
		plannerCtx, cancel = context.WithTimeout(ctx, d)
	}
	plan, err := o.cfg.Planner.Plan(plannerCtx, pack)
	if cancel != nil {
		cancel()
	}
	if err != nil {
		return model.RunStateFailed, err
	}

	if err := o.appendEvent(ctx, rc.req.RunID, model.EventModelPlanResult, plan); err != nil {
		return model.RunStateFailed, err
	}

	grounded, fallback := checkGrounding(plan.Document, obs)
	if !grounded {
		plan.Document = fallback
	}

	if len(plan.ToolCalls) == 0 {
		o.emitState(ctx, rc, "final answer rendered", "")
		o.transition(ctx, rc, model.RunStateCompleted, "no_tool_calls")
		return model.RunStateCompleted, nil
	}

	call := plan.ToolCalls[0]
	call.Scope = model.ScopeBinding{
		Origin:        rc.binding.Origin,
		DocumentID:    rc.binding.DocumentID,
		NavigationGen: rc.binding.NavigationGen,
	}
	// Observation-derived classification always wins over whatever the
	// planner self-reported: the planner is the untrusted party the
	// credential-field hard invariant exists to constrain, so a known
	// handle's field class is never taken on the planner's word alone.
	if fc := fieldClassForHandle(obs, call.TargetHandle); fc != "" {
		call.FieldClass = fc
	}

	pctx := model.PolicyContext{
		Mode:                 rc.mode,
		OriginClassification: policygate.ClassifyOrigin(rc.binding.Origin, obs, o.cfg.OriginLabels, o.cfg.CuratedSensitiveOrigins),
		CrossSiteGrants:      rc.grants,
	}
	decision := o.cfg.Gate.Decide(pctx, call)
	o.recordPolicyDecision(ctx, rc, call, decision)

	switch decision.Decision {
	case model.DecisionDeny:
		rc.stepTrail = append(rc.stepTrail, contextpack.StepTrailEntry{
			PolicyDecision: &model.PolicyDecisionPayload{Tool: call.Tool, Decision: string(decision.Decision), ReasonCode: decision.ReasonCode},
		})
		o.emitState(ctx, rc, "tool call denied: "+decision.ReasonCode, decision.ReasonCode)
		return model.RunStateObserving, nil
	case model.DecisionAsk:
		o.emitState(ctx, rc, "awaiting user approval", decision.ReasonCode)
		o.transition(ctx, rc, model.RunStateAwaitingApprove, decision.ReasonCode)
		return model.RunStateAwaitingApprove, nil
	}

	o.transition(ctx, rc, model.RunStateExecuting, "policy_allow")

	result, err := o.cfg.Router.Dispatch(ctx, toolrouter.Request{
		RunID:           rc.req.RunID,
		Call:            call,
		FrameID:         "",
		CapabilityToken: token.Raw,
		ExpectedBinding: rc.binding,
		Observation:     obs,
		Deadline:        o.cfg.Step.ToolDeadline(),
	})
	rc.stepTrail = append(rc.stepTrail, contextpack.StepTrailEntry{
		ToolRequest: &model.ToolRequestPayload{RequestID: call.RequestID, Tool: call.Tool, Args: call.Args},
		ToolResult:  &model.ToolResultPayload{RequestID: result.RequestID, Tool: call.Tool, Success: result.Success, ErrorCode: string(result.ErrorCode), ErrorMsg: result.ErrorMsg},
	})

	if err != nil {
		return o.handleToolFailure(ctx, rc, err)
	}

	o.transition(ctx, rc, model.RunStateVerifying, "tool_dispatched")

	verifyObs, verr := o.observe(ctx, rc)
	if verr != nil {
		return model.RunStatePaused, nil
	}
	rc.lastObs = verifyObs
	rc.binding.DocumentID = verifyObs.DocumentID
	rc.binding.NavigationGen = verifyObs.NavigationGen

	if !result.Success {
		return o.handleVerificationFailure(ctx, rc)
	}

	rc.retries = 0
	o.maybeCheckpoint(ctx, rc)
	return model.RunStateObserving, nil
}

// handleToolFailure maps a Tool Router error to the next RunState per
// spec §4.5/§4.6's recovery rules: StaleHandle and friends re-observe;
// Unavailable pauses the run; a retryable code under budget retries in
// place (handled by returning to observing, which re-mints a token and
// re-plans); exhausting the retry budget downgrades autonomy by one step.
func (o *Orchestrator) handleToolFailure(ctx context.Context, rc *runCtx, err error) (model.RunState, error) {
	code := model.CodeOf(err)
	if code == model.CodeUnavailable {
		o.transition(ctx, rc, model.RunStatePaused, string(code))
		return model.RunStatePaused, nil
	}
	if code == model.CodeCancelled {
		o.transition(ctx, rc, model.RunStateCancelled, string(code))
		return model.RunStateCancelled, nil
	}
	if code.Retryable() {
		rc.retries++
		if rc.retries > o.cfg.Step.MaxRetries {
			return o.downgradeAutonomy(ctx, rc, "retry_budget_exhausted")
		}
	}
	return model.RunStateObserving, nil
}

// handleVerificationFailure implements spec §4.6: "Postcondition failure
// triggers re-plan, not retry," bounded the same way tool-error retries
// are, since an unbounded re-plan loop on a page that never satisfies its
// postcondition is indistinguishable from a hang.
func (o *Orchestrator) handleVerificationFailure(ctx context.Context, rc *runCtx) (model.RunState, error) {
	rc.retries++
	if o.cfg.Audit != nil {
		o.cfg.Audit.Log(ctx, &audit.Event{Type: audit.EventToolResult, Level: audit.LevelWarn, RunID: rc.req.RunID, Action: "verification_failed"})
	}
	if rc.retries > o.cfg.Step.MaxRetries {
		return o.downgradeAutonomy(ctx, rc, "verification_failed_budget_exhausted")
	}
	return model.RunStateObserving, nil
}

func (o *Orchestrator) downgradeAutonomy(ctx context.Context, rc *runCtx, reason string) (model.RunState, error) {
	from := rc.mode
	rc.mode = rc.mode.Downgrade()
	rc.binding.Mode = rc.mode
	rc.retries = 0
	if o.cfg.Audit != nil {
		o.cfg.Audit.LogAutonomyDowngrade(ctx, rc.req.RunID, string(from), string(rc.mode), reason)
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordAutonomyDowngrade(string(from), string(rc.mode))
	}
	if from == model.ModeReadOnly {
		// Already at the floor: nothing left to downgrade to means the run
		// cannot make safe forward progress.
		return model.RunStateFailed, model.NewError(model.CodeVerificationFailed, "exhausted retries at read_only autonomy", nil)
	}
	// Record the new mode on a run.state event (state itself unchanged) so
	// a process restart can fold the downgrade back instead of resuming at
	// the original, now-too-permissive autonomy level.
	o.transition(ctx, rc, rc.state, "autonomy_downgrade:"+reason)
	return model.RunStateObserving, nil
}

func (o *Orchestrator) observe(ctx context.Context, rc *runCtx) (*model.Observation, error) {
	octx := ctx
	var cancel context.CancelFunc
	if d := o.cfg.Step.ObserveDeadline(); d > 0 {
		octx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	obs, err := o.cfg.Observer.Observe(octx, rc.binding)
	if err != nil {
		return nil, err
	}
	if err := o.appendEvent(ctx, rc.req.RunID, model.EventPageObserve, obs); err != nil {
		return nil, err
	}
	return obs, nil
}

// fieldClassForHandle looks up the field classification the observer
// already computed (spec §4.3's classify_field, applied once at observation
// time) for call's target handle, returning "" when the handle names
// nothing the observation classified as a form field (e.g. a button, or a
// tool call with no target handle at all).
func fieldClassForHandle(obs *model.Observation, handle model.ElementHandle) model.FieldClass {
	if obs == nil || handle == "" {
		return ""
	}
	for _, f := range obs.Forms {
		if f.Handle == handle {
			return f.FieldClass
		}
	}
	return ""
}

func (o *Orchestrator) allowedTools() []string {
	if o.cfg.ToolSchemas == nil {
		return nil
	}
	return o.cfg.ToolSchemas()
}

func (o *Orchestrator) recordPolicyDecision(ctx context.Context, rc *runCtx, call model.ToolCall, decision model.PolicyDecision) {
	_ = o.appendEvent(ctx, rc.req.RunID, model.EventPolicyDecision, model.PolicyDecisionPayload{
		Tool:            call.Tool,
		Decision:        string(decision.Decision),
		ReasonCode:      decision.ReasonCode,
		RequiresGesture: decision.RequiresGesture,
		DocumentID:      decision.Scope.DocumentID,
		NavigationGen:   decision.Scope.NavigationGen,
		MatrixVersion:   decision.MatrixVersion,
	})
	if o.cfg.Audit != nil {
		o.cfg.Audit.LogPolicyDecision(ctx, rc.req.RunID, call.Tool, string(decision.Decision), decision.ReasonCode)
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordPolicyDecision(call.Tool, string(decision.Decision), decision.ReasonCode)
	}
	rc.lastReason = decision.ReasonCode
}

func (o *Orchestrator) maybeCheckpoint(ctx context.Context, rc *runCtx) {
	every := 40
	rc.eventsSinceCP++
	if rc.eventsSinceCP < every {
		return
	}
	rc.eventsSinceCP = 0
	tip, err := o.cfg.Store.Tip(ctx, rc.req.RunID)
	if err != nil {
		return
	}
	cp := model.CheckpointPayload{
		Goal:       rc.req.Goal,
		NextIntent: "continue toward goal",
	}
	if ev, err := o.cfg.Store.Compact(ctx, rc.req.RunID, tip, cp); err == nil {
		var payload model.CheckpointPayload
		if err := decodeEventPayload(ev, &payload); err == nil {
			rc.checkpoints = append(rc.checkpoints, payload)
		}
	}
}

func (o *Orchestrator) transition(ctx context.Context, rc *runCtx, to model.RunState, reason string) {
	from := rc.state
	rc.state = to
	_ = o.appendEvent(ctx, rc.req.RunID, model.EventRunState, model.RunStatePayload{From: from, To: to, Reason: reason, Mode: rc.mode})
	if o.cfg.Audit != nil {
		o.cfg.Audit.LogRunTransition(ctx, rc.req.RunID, string(from), string(to), reason)
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordRunTransition(string(from), string(to))
	}
	o.emitState(ctx, rc, reason, rc.lastReason)
}

func (o *Orchestrator) emitState(ctx context.Context, rc *runCtx, summary, reasonCode string) {
	if o.cfg.Emitter == nil {
		return
	}
	o.cfg.Emitter.EmitState(ctx, model.RunStateView{
		AppState: string(rc.state),
		Site:     rc.binding.Origin,
		Mode:     rc.mode,
		Run: model.RunSummaryView{
			ID:                rc.req.RunID,
			Status:            rc.state,
			LastActionSummary: summary,
			PendingApproval:   rc.state == model.RunStateAwaitingApprove,
			LastReasonCode:    reasonCode,
		},
		Controls: model.ControlsView{
			CanStop:   !rc.state.Terminal(),
			CanResume: rc.state == model.RunStatePaused,
		},
		Policy: model.PolicyPreview{},
	})
}

func (o *Orchestrator) recordError(ctx context.Context, rc *runCtx, err error) {
	if o.cfg.Audit != nil {
		o.cfg.Audit.Log(ctx, &audit.Event{Type: audit.EventRunTransition, Level: audit.LevelError, RunID: rc.req.RunID, Action: "run_failed", Error: err.Error()})
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordError("orchestrator", string(model.CodeOf(err)))
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, runID string, kind model.EventKind, payload any) error {
	tip, err := o.cfg.Store.Tip(ctx, runID)
	if err != nil {
		return model.NewError(model.CodeDurability, "read tip", err)
	}
	if _, err := o.cfg.Store.Append(ctx, runID, tip, kind, payload); err != nil {
		return err
	}
	return nil
}

func decodeEventPayload(ev *model.Event, out any) error {
	if ev == nil || ev.Payload == nil {
		return fmt.Errorf("orchestrator: nil event payload")
	}
	return json.Unmarshal(ev.Payload, out)
}
