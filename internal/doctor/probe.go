// Package doctor implements the `sidecar doctor` CLI's diagnostics: event
// store chain health, capability keyring state, pending approvals, policy
// config sanity checks, and a handful of safe bootstrap repairs. None of it
// is on the Orchestrator's hot path; it exists so an operator can ask "is
// this profile healthy" without reading raw event logs by hand.
package doctor

import (
	"context"
	"sort"

	"github.com/haasonsaas/sidecar/internal/eventstore"
	"github.com/haasonsaas/sidecar/internal/orchestrator"
	"github.com/haasonsaas/sidecar/pkg/model"
)

// RunHealth captures one run's chain integrity and resume posture, the
// doctor-facing view of what spec.md §8's "resume safety" law guarantees
// at every restart.
type RunHealth struct {
	RunID       string
	State       model.RunState
	ChainOK     bool
	BreakAt     int64
	EventCount  int
	ForcedPause bool
	Error       string
}

// ProbeRuns walks every run known to store, verifies its hash chain, and
// folds its event log the way the Orchestrator would on restart, following
// the teacher's ProbeChannelHealth shape (internal/doctor/probe.go):
// deterministic ordering, one probe per registered unit, no mutation.
func ProbeRuns(ctx context.Context, store eventstore.Store) ([]RunHealth, error) {
	if store == nil {
		return nil, nil
	}

	runIDs, err := store.Runs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(runIDs)

	results := make([]RunHealth, 0, len(runIDs))
	for _, runID := range runIDs {
		health := RunHealth{RunID: runID}

		events, err := store.Read(ctx, runID, 0, 0)
		if err != nil {
			health.Error = err.Error()
			results = append(results, health)
			continue
		}
		health.EventCount = len(events)

		ok, breakAt, err := store.Verify(ctx, runID)
		if err != nil {
			health.Error = err.Error()
			results = append(results, health)
			continue
		}
		health.ChainOK = ok
		health.BreakAt = breakAt

		if res, err := orchestrator.Resume(ctx, store, runID); err == nil {
			health.State = res.State
			health.ForcedPause = res.ForcedPause
		}

		results = append(results, health)
	}

	return results, nil
}

// Unhealthy reports whether this run needs operator attention: a broken
// chain, a forced pause after restart, or a terminal failure.
func (h RunHealth) Unhealthy() bool {
	return !h.ChainOK || h.ForcedPause || h.State == model.RunStateFailed || h.Error != ""
}
