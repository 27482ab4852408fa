// Package eventstore implements the append-only, hash-chained run event log
// described in spec §4.1: the sole source of truth for run state. A single
// writer per run appends events; many readers stream them back in id order.
//
// Two backends share the Store interface, following the teacher's
// internal/storage split between internal/storage/memory.go and
// internal/storage/cockroach.go: an in-memory implementation for tests and
// the `sidecar run` dev command, and a modernc.org/sqlite-backed
// implementation for the persistent `runs`/`events`/`chat_events`/`meta`
// tables named in spec.md §6.
package eventstore

import (
	"context"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// Store is the durable, single-writer-per-run event log.
type Store interface {
	// Append transactionally writes an event whose PrevHash matches the
	// current tip. Fails with CodeChainConflict if parentEventID is not
	// the tip, CodeSchemaViolation if payload does not validate against
	// kind's schema, and CodeBackpressure if the run's write queue is
	// full.
	Append(ctx context.Context, runID string, parentEventID int64, kind model.EventKind, payload any) (*model.Event, error)

	// Read streams events in id order starting at fromID (inclusive),
	// bounded by limit. limit <= 0 means unbounded.
	Read(ctx context.Context, runID string, fromID int64, limit int) ([]*model.Event, error)

	// Tip returns the id of the most recently appended event on the run's
	// current head, or 0 if the run has no events yet.
	Tip(ctx context.Context, runID string) (int64, error)

	// Rollback writes a run.rollback event referencing targetEventID.
	// Skipped events are not deleted; subsequent appends are linear on
	// the new head.
	Rollback(ctx context.Context, runID string, targetEventID int64) (*model.Event, error)

	// Branch appends a run.branch event to the run's current chain naming
	// a new branch id that starts at fromEventID, and returns that id. It
	// does not create a separate head: later appends, Read and Tip stay on
	// the run's single linear chain.
	Branch(ctx context.Context, runID string, fromEventID int64) (string, error)

	// Compact writes a run.checkpoint event and then calls Prune for
	// events up to and including upToEventID.
	Compact(ctx context.Context, runID string, upToEventID int64, checkpoint model.CheckpointPayload) (*model.Event, error)

	// Prune clears the payload body of every prunable event up to and
	// including upToEventID, retaining id/hash/prev_hash/kind and a
	// digest of the original payload so the chain stays verifiable.
	Prune(ctx context.Context, runID string, upToEventID int64) (int, error)

	// Redact tombstones a single event's payload (e.g. on a later
	// discovery that it captured sensitive content), preserving hash and
	// chain position. This is the only form of "deletion" the spec
	// permits.
	Redact(ctx context.Context, runID string, eventID int64, reason string) (*model.Event, error)

	// Verify walks the run's chain recomputing hashes. ok is true and
	// breakAt is 0 if the chain is intact; otherwise breakAt names the
	// first event whose hash does not match.
	Verify(ctx context.Context, runID string) (ok bool, breakAt int64, err error)

	// Runs lists run ids known to the store, for the doctor CLI and
	// resume-on-startup enumeration.
	Runs(ctx context.Context) ([]string, error)

	// Close releases backend resources (sqlite handle, writer goroutines).
	Close() error
}

// BranchEvent is the canonical payload of a run.branch event.
type BranchEvent struct {
	BranchID     string `json:"branch_id"`
	FromEventID  int64  `json:"from_event_id"`
}

// RollbackEvent is the canonical payload of a run.rollback event.
type RollbackEvent struct {
	TargetEventID int64 `json:"target_event_id"`
}

// RedactionEvent explains why a prior event's payload was tombstoned.
type RedactionEvent struct {
	TargetEventID int64  `json:"target_event_id"`
	Reason        string `json:"reason"`
}
