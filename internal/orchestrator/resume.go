package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/sidecar/internal/contextpack"
	"github.com/haasonsaas/sidecar/internal/eventstore"
	"github.com/haasonsaas/sidecar/pkg/model"
)

// ResumeResult is what folding a run's event log on process restart
// produces: enough to either continue driving the run or to report why it
// cannot be continued automatically.
type ResumeResult struct {
	Run         model.Run
	State       model.RunState
	Goal        string
	Mode        model.Mode
	Binding     model.Binding
	StepTrail   []contextpack.StepTrailEntry
	Checkpoints []model.CheckpointPayload
	Overrides   []model.CrossSiteGrant
	// ForcedPause is true when the fold found the run mid-execution with no
	// matching tool.result: per spec §4.6, "mutating steps that were
	// executing without a tool.result event are not automatically
	// replayed — the run enters paused," since replaying a mutating call
	// whose outcome is unknown risks a second side effect.
	ForcedPause bool
}

// Resume reconstructs a run's last known state by folding its event log.
// Capability tokens are never part of this fold: per spec §4.2 they are
// never persisted, and the Orchestrator always re-mints a fresh token
// before its next dispatch regardless of what Resume returns.
func Resume(ctx context.Context, store eventstore.Store, runID string) (*ResumeResult, error) {
	events, err := store.Read(ctx, runID, 0, 0)
	if err != nil {
		return nil, model.NewError(model.CodeDurability, "read run log for resume", err)
	}
	if len(events) == 0 {
		return nil, model.NewError(model.CodeNotFound, "run has no events", nil)
	}

	res := &ResumeResult{State: model.RunStateIdle}
	var pendingToolRequest *model.ToolRequestPayload
	var lastPolicyDecision *model.PolicyDecisionPayload

	for _, ev := range events {
		if ev.Tombstoned || ev.Payload == nil {
			continue
		}
		switch ev.Kind {
		case model.EventUserMessage:
			var p struct {
				Goal string `json:"goal"`
			}
			if json.Unmarshal(ev.Payload, &p) == nil {
				res.Goal = p.Goal
			}

		case model.EventRunState:
			var p model.RunStatePayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				res.State = p.To
				if p.Mode != "" {
					res.Mode = p.Mode
				}
			}

		case model.EventPageObserve:
			var obs model.Observation
			if json.Unmarshal(ev.Payload, &obs) == nil {
				res.Binding.DocumentID = obs.DocumentID
				res.Binding.NavigationGen = obs.NavigationGen
				res.Binding.Origin = obs.Origin
			}

		case model.EventPolicyDecision:
			var p model.PolicyDecisionPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				lastPolicyDecision = &p
			}

		case model.EventToolRequest:
			var p model.ToolRequestPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				pendingToolRequest = &p
				res.Binding.TabID = p.TabID
				res.StepTrail = append(res.StepTrail, contextpack.StepTrailEntry{
					ToolRequest:    &p,
					PolicyDecision: lastPolicyDecision,
				})
			}

		case model.EventToolResult:
			var p model.ToolResultPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				if pendingToolRequest != nil && pendingToolRequest.RequestID == p.RequestID {
					pendingToolRequest = nil
				}
				if n := len(res.StepTrail); n > 0 && res.StepTrail[n-1].ToolResult == nil {
					res.StepTrail[n-1].ToolResult = &p
				}
			}

		case model.EventRunCheckpoint:
			var p model.CheckpointPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				res.Checkpoints = append(res.Checkpoints, p)
			}

		case model.EventUserCrossSiteIntent:
			var p model.CrossSiteGrant
			if json.Unmarshal(ev.Payload, &p) == nil {
				res.Overrides = append(res.Overrides, p)
			}
		}
	}

	if res.State == model.RunStateExecuting && pendingToolRequest != nil {
		res.ForcedPause = true
		res.State = model.RunStatePaused
	}

	return res, nil
}
