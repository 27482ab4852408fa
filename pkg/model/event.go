package model

import "time"

// EventKind identifies the shape of an Event's payload.
type EventKind string

const (
	EventUserMessage          EventKind = "user.message"
	EventUserApproval         EventKind = "user.approval"
	EventUserDenial           EventKind = "user.denial"
	EventUserCancel           EventKind = "user.cancel"
	EventUserTakeover         EventKind = "user.takeover"
	EventUserCrossSiteIntent  EventKind = "user.cross_site_intent"
	EventPageObserve          EventKind = "page.observe"
	EventModelPlanRequest     EventKind = "model.plan.request"
	EventModelPlanResult      EventKind = "model.plan.result"
	EventToolRequest          EventKind = "tool.request"
	EventToolResult           EventKind = "tool.result"
	EventPolicyDecision       EventKind = "policy.decision"
	EventRunCheckpoint        EventKind = "run.checkpoint"
	EventRunRollback          EventKind = "run.rollback"
	EventRunBranch            EventKind = "run.branch"
	EventRunState             EventKind = "run.state"
	EventRunRedaction         EventKind = "run.redaction"
)

// CurrentSchemaVersion is the schema version new events are written with.
// The spec requires exactly one active schema version per release.
const CurrentSchemaVersion = 1

// Event is the atomic, immutable unit of a run's log. Payload is the
// canonical (deterministically serialized) form of a kind-specific struct;
// Hash = H(PrevHash || Payload).
type Event struct {
	ID            int64     `json:"id"`
	RunID         string    `json:"run_id"`
	Seq           int64     `json:"seq"`
	ParentEventID int64     `json:"parent_event_id"`
	Kind          EventKind `json:"kind"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	Payload       []byte    `json:"payload"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
	// Tombstoned marks a redaction: the payload body has been cleared but
	// id/hash/prev_hash/kind are preserved so the chain stays verifiable.
	Tombstoned bool `json:"tombstoned,omitempty"`
	// RetainedDigest is kept after pruning so the original payload's
	// hash contribution can still be explained without the body.
	RetainedDigest string `json:"retained_digest,omitempty"`
}

// ToolRequestPayload is the canonical payload of a tool.request event.
type ToolRequestPayload struct {
	RequestID        string          `json:"request_id"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
	Tool             string          `json:"tool"`
	Args             map[string]any  `json:"args"`
	DocumentID       string          `json:"document_id"`
	NavigationGen    int64           `json:"navigation_generation"`
	TabID            string          `json:"tab_id"`
	FrameID          string          `json:"frame_id,omitempty"`
	CapabilityKeyID  string          `json:"capability_key_id"`
}

// ToolResultPayload is the canonical payload of a tool.result event.
type ToolResultPayload struct {
	RequestID   string         `json:"request_id"`
	Tool        string         `json:"tool"`
	Success     bool           `json:"success"`
	Result      map[string]any `json:"result,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorMsg    string         `json:"error_message,omitempty"`
}

// PolicyDecisionPayload is the canonical payload of a policy.decision event.
type PolicyDecisionPayload struct {
	Tool             string `json:"tool"`
	Decision         string `json:"decision"`
	ReasonCode       string `json:"reason_code"`
	RequiresGesture  bool   `json:"requires_gesture"`
	DocumentID       string `json:"document_id"`
	NavigationGen    int64  `json:"navigation_generation"`
	MatrixVersion    string `json:"matrix_version"`
}

// RunStatePayload is the canonical payload of a run.state event. Mode
// records the run's autonomy level as of this transition, so a resumed run
// can recover an autonomy downgrade (spec §4.6) without needing a separate
// event kind for it.
type RunStatePayload struct {
	From   RunState `json:"from"`
	To     RunState `json:"to"`
	Reason string   `json:"reason,omitempty"`
	Mode   Mode     `json:"mode,omitempty"`
}

// CheckpointPayload is the canonical payload of a run.checkpoint event.
type CheckpointPayload struct {
	Goal           string   `json:"goal"`
	KeyFacts       []string `json:"key_facts"`
	Succeeded      []string `json:"succeeded"`
	Failed         []string `json:"failed"`
	NextIntent     string   `json:"next_intent"`
	UpToEventID    int64    `json:"up_to_event_id"`
	HeadSignature  string   `json:"head_signature,omitempty"`
}
