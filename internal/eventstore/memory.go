package eventstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/sidecar/internal/canonical"
	"github.com/haasonsaas/sidecar/pkg/model"
)

// MemoryStore is an in-memory Store, used by unit tests, the `sidecar run`
// dev command, and anywhere a durable backend would only add noise.
type MemoryStore struct {
	mu         sync.Mutex
	runs       map[string]*runState
	queueDepth int
	now        func() time.Time
}

type runState struct {
	// writeSlots bounds in-flight appends per run the way the teacher's
	// audit.Logger bounds its buffered channel: a full slot set fails an
	// append fast with CodeBackpressure rather than blocking.
	writeSlots chan struct{}
	events     []*model.Event
	branches   map[string]int64 // branch id -> from event id
}

// NewMemoryStore builds an empty in-memory store. queueDepth bounds
// in-flight appends per run; <= 0 defaults to 64.
func NewMemoryStore(queueDepth int) *MemoryStore {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &MemoryStore{
		runs:       make(map[string]*runState),
		queueDepth: queueDepth,
		now:        time.Now,
	}
}

func (s *MemoryStore) runFor(runID string) *runState {
	rs, ok := s.runs[runID]
	if !ok {
		rs = &runState{
			writeSlots: make(chan struct{}, s.queueDepth),
			branches:   make(map[string]int64),
		}
		s.runs[runID] = rs
	}
	return rs
}

func (s *MemoryStore) Append(ctx context.Context, runID string, parentEventID int64, kind model.EventKind, payload any) (*model.Event, error) {
	s.mu.Lock()
	rs := s.runFor(runID)
	select {
	case rs.writeSlots <- struct{}{}:
	default:
		s.mu.Unlock()
		return nil, model.NewError(model.CodeBackpressure, "event store write queue full", nil)
	}
	defer func() { <-rs.writeSlots }()

	var tipHash string
	var tipSeq int64
	if n := len(rs.events); n > 0 {
		tipHash = rs.events[n-1].Hash
		tipSeq = rs.events[n-1].Seq
	}
	if parentEventID != tipSeq {
		s.mu.Unlock()
		return nil, model.NewError(model.CodeChainConflict, fmt.Sprintf("parent %d is not the tip %d", parentEventID, tipSeq), nil)
	}

	canon, err := canonical.Marshal(payload)
	if err != nil {
		s.mu.Unlock()
		return nil, model.NewError(model.CodeInternal, "canonicalize payload", err)
	}
	if err := validatePayload(kind, canon); err != nil {
		s.mu.Unlock()
		return nil, model.NewError(model.CodeSchemaViolation, err.Error(), err)
	}

	seq := tipSeq + 1
	ev := &model.Event{
		ID:            seq,
		RunID:         runID,
		Seq:           seq,
		ParentEventID: parentEventID,
		Kind:          kind,
		SchemaVersion: model.CurrentSchemaVersion,
		CreatedAt:     s.now().UTC(),
		Payload:       canon,
		PrevHash:      tipHash,
		Hash:          canonical.Hash(tipHash, canon),
	}
	rs.events = append(rs.events, ev)
	s.mu.Unlock()
	return ev, nil
}

func (s *MemoryStore) Read(ctx context.Context, runID string, fromID int64, limit int) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	var out []*model.Event
	for _, ev := range rs.events {
		if ev.Seq < fromID {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Tip(ctx context.Context, runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.runs[runID]
	if !ok || len(rs.events) == 0 {
		return 0, nil
	}
	return rs.events[len(rs.events)-1].Seq, nil
}

func (s *MemoryStore) Rollback(ctx context.Context, runID string, targetEventID int64) (*model.Event, error) {
	tip, err := s.Tip(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.Append(ctx, runID, tip, model.EventRunRollback, RollbackEvent{TargetEventID: targetEventID})
}

func (s *MemoryStore) Branch(ctx context.Context, runID string, fromEventID int64) (string, error) {
	tip, err := s.Tip(ctx, runID)
	if err != nil {
		return "", err
	}
	branchID := fmt.Sprintf("%s-branch-%d", runID, fromEventID)
	if _, err := s.Append(ctx, runID, tip, model.EventRunBranch, BranchEvent{BranchID: branchID, FromEventID: fromEventID}); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.runFor(runID).branches[branchID] = fromEventID
	s.mu.Unlock()
	return branchID, nil
}

func (s *MemoryStore) Compact(ctx context.Context, runID string, upToEventID int64, checkpoint model.CheckpointPayload) (*model.Event, error) {
	checkpoint.UpToEventID = upToEventID
	tip, err := s.Tip(ctx, runID)
	if err != nil {
		return nil, err
	}
	ev, err := s.Append(ctx, runID, tip, model.EventRunCheckpoint, checkpoint)
	if err != nil {
		return nil, err
	}
	if _, err := s.Prune(ctx, runID, upToEventID); err != nil {
		return ev, err
	}
	return ev, nil
}

func (s *MemoryStore) Prune(ctx context.Context, runID string, upToEventID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.runs[runID]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, ev := range rs.events {
		if ev.Seq > upToEventID || ev.Tombstoned {
			continue
		}
		if !prunableKind(ev.Kind) {
			continue
		}
		ev.RetainedDigest = canonical.Digest(ev.Payload)
		ev.Payload = nil
		n++
	}
	return n, nil
}

// prunableKind reports whether kind's payload body may be discarded after
// a checkpoint covers it. Decision events and state-machine markers are
// small and load-bearing for replay; only bulky, supersedable content
// (observations, model plan exchanges) is pruned.
func prunableKind(kind model.EventKind) bool {
	switch kind {
	case model.EventPageObserve, model.EventModelPlanRequest, model.EventModelPlanResult:
		return true
	default:
		return false
	}
}

func (s *MemoryStore) Redact(ctx context.Context, runID string, eventID int64, reason string) (*model.Event, error) {
	s.mu.Lock()
	rs, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return nil, model.NewError(model.CodeNotFound, "run not found", nil)
	}
	var target *model.Event
	for _, ev := range rs.events {
		if ev.Seq == eventID {
			target = ev
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return nil, model.NewError(model.CodeNotFound, "event not found", nil)
	}
	target.RetainedDigest = canonical.Digest(target.Payload)
	target.Payload = nil
	target.Tombstoned = true
	s.mu.Unlock()

	tip, err := s.Tip(ctx, runID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Append(ctx, runID, tip, model.EventRunRedaction, RedactionEvent{TargetEventID: eventID, Reason: reason}); err != nil {
		return nil, err
	}
	return target, nil
}

func (s *MemoryStore) Verify(ctx context.Context, runID string) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.runs[runID]
	if !ok {
		return true, 0, nil
	}
	prevHash := ""
	for _, ev := range rs.events {
		if ev.PrevHash != prevHash {
			return false, ev.Seq, nil
		}
		payload := ev.Payload
		if ev.Tombstoned || payload == nil {
			// A pruned/tombstoned event's hash can't be recomputed from
			// the (discarded) body; its retained digest, recorded at
			// prune/redact time, is the only remaining assurance, and
			// Verify does not check it.
			prevHash = ev.Hash
			continue
		}
		if !canonical.Verify(ev.PrevHash, payload, ev.Hash) {
			return false, ev.Seq, nil
		}
		prevHash = ev.Hash
	}
	return true, 0, nil
}

func (s *MemoryStore) Runs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.runs))
	for id := range s.runs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
