package orchestrator

import "errors"

// Sentinel errors for orchestrator-level failures that never cross a
// component boundary as a *model.CoreError, following the teacher's
// internal/agent/errors.go Err* sentinel pattern.
var (
	ErrNoPlanner    = errors.New("orchestrator: no planner configured")
	ErrNoObserver   = errors.New("orchestrator: no observer configured")
	ErrRunTerminal  = errors.New("orchestrator: run is already in a terminal state")
	ErrMaxStepsHit  = errors.New("orchestrator: run exhausted its step budget")
)
