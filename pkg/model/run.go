// Package model defines the shared data types that flow between the Agent
// Core's components: runs, events, observations, policy decisions and the
// capability tokens that bind a tool call to an approved action.
package model

import (
	"time"
)

// RunState is the phase of the Orchestrator's state machine for a single run.
type RunState string

const (
	RunStateIdle            RunState = "idle"
	RunStateAuthorizing     RunState = "authorizing"
	RunStateObserving       RunState = "observing"
	RunStatePlanning        RunState = "planning"
	RunStateAwaitingApprove RunState = "awaiting_approval"
	RunStateExecuting       RunState = "executing"
	RunStateVerifying       RunState = "verifying"
	RunStatePaused          RunState = "paused"
	RunStateTakeover        RunState = "takeover"
	RunStateCompleted       RunState = "completed"
	RunStateCancelled       RunState = "cancelled"
	RunStateFailed          RunState = "failed"
)

// Terminal reports whether no further transitions are expected for the state.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStateCancelled, RunStateFailed:
		return true
	default:
		return false
	}
}

// Run is the durable record of a single agent task against one browser tab.
type Run struct {
	ID        string    `json:"id"`
	TabID     string    `json:"tab_id"`
	Goal      string    `json:"goal"`
	State     RunState  `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// HeadSeq is the sequence number of the last event appended to this run's chain.
	HeadSeq int64 `json:"head_seq"`
	// HeadHash is the hash of the last event, i.e. the current chain tip.
	HeadHash string `json:"head_hash"`
}
