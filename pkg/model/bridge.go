package model

import (
	"encoding/json"
	"time"
)

// Envelope is the stable shape of every extension-bridge message, both
// consumed and emitted.
type Envelope struct {
	ProtocolVersion int             `json:"protocol_version"`
	RequestID       string          `json:"request_id"`
	CapabilityToken string          `json:"capability_token,omitempty"`
	Context         MessageContext  `json:"context"`
	Deadline        time.Time       `json:"deadline"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Type            string          `json:"type"`
	Body            json.RawMessage `json:"body"`
}

// MessageContext is the page-identity context every envelope carries.
type MessageContext struct {
	Origin        string `json:"origin"`
	TabID         string `json:"tab_id"`
	FrameID       string `json:"frame_id,omitempty"`
	DocumentID    string `json:"document_id"`
	NavigationGen int64  `json:"navigation_generation"`
}

// Inbound message types the core consumes.
const (
	MsgObservationResult  = "observation.result"
	MsgToolResult         = "tool.result"
	MsgUIGesturePerformed = "ui.gesture_performed"
	MsgUITakeover         = "ui.takeover"
	MsgUIApproval         = "ui.approval"
	MsgUIDenial           = "ui.denial"
	MsgUICancel           = "ui.cancel"
)

// Outbound message types the core emits.
const (
	MsgObserveRequest   = "observe.request"
	MsgToolRequest      = "tool.request"
	MsgUIGestureRequired = "ui.gesture_required"
	MsgUIState          = "ui.state"
)

// RunStateView is the compact run-state payload emitted as ui.state. It
// must never contain cookies, session tokens, capability tokens, keys, raw
// markup, full page text, or typed form values.
type RunStateView struct {
	AppState string `json:"app_state"`
	Site     string `json:"site"`
	Mode     Mode   `json:"mode"`
	Run      RunSummaryView `json:"run"`
	Controls ControlsView   `json:"controls"`
	Policy   PolicyPreview  `json:"policy"`
}

// RunSummaryView is the run-facing subset of RunStateView.
type RunSummaryView struct {
	ID                string   `json:"id"`
	Status            RunState `json:"status"`
	AttachedTarget    string   `json:"attached_target,omitempty"`
	LastActionSummary string   `json:"last_action_summary,omitempty"`
	NextStepPreview   string   `json:"next_step_preview,omitempty"`
	PendingApproval   bool     `json:"pending_approval"`
	LastReasonCode    string   `json:"last_reason_code,omitempty"`
}

// ControlsView describes which UI affordances are currently valid.
type ControlsView struct {
	CanStop      bool `json:"can_stop"`
	CanResume    bool `json:"can_resume"`
	NeedsGesture bool `json:"needs_gesture"`
}

// PolicyPreview surfaces only the next pending decision, never history.
type PolicyPreview struct {
	NextDecision Decision `json:"next_decision,omitempty"`
}
