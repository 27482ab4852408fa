package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/sidecar/internal/canonical"
	"github.com/haasonsaas/sidecar/internal/retry"
	"github.com/haasonsaas/sidecar/pkg/model"
)

// commitRetry bounds how long Append retries a whole begin/insert/commit
// attempt that fails with a transient "database is locked" error from a
// concurrent writer on another run's slot sharing the same sqlite file.
// Every other failure, including CodeChainConflict, is wrapped
// retry.Permanent by appendOnce so it surfaces on the first attempt.
var commitRetry = retry.Config{
	MaxAttempts:  4,
	InitialDelay: 10 * time.Millisecond,
	MaxDelay:     200 * time.Millisecond,
	Factor:       2.0,
	Jitter:       true,
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// SQLiteStore is the persistent Store backend named in spec.md §6: one
// on-disk database per profile with `runs`, `events`, `chat_events`, and
// `meta` tables. Uses modernc.org/sqlite, a pure-Go driver, following the
// teacher's portability choice for internal/sessions and internal/memory
// (no cgo toolchain dependency).
//
// Appends pass through a bounded semaphore per run, mirroring MemoryStore;
// the mutex only guards the map of semaphores, and the single open
// connection serializes the writes themselves. The durability boundary
// here is the sqlite transaction rather than an in-memory slice.
type SQLiteStore struct {
	db         *sql.DB
	queueDepth int

	mu    sync.Mutex
	slots map[string]chan struct{}
}

const schemaVersion = 1

// OpenSQLite opens (creating if absent) the sqlite database at dsn and
// ensures its schema. queueDepth bounds in-flight appends per run.
func OpenSQLite(dsn string, queueDepth int) (*SQLiteStore, error) {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer discipline; sqlite serializes anyway
	s := &SQLiteStore{db: db, queueDepth: queueDepth, slots: make(map[string]chan struct{})}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			status TEXT NOT NULL,
			surface TEXT,
			origin TEXT,
			head_event_id INTEGER NOT NULL DEFAULT 0,
			head_hash TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			parent_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			payload_blob BLOB,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			tombstoned INTEGER NOT NULL DEFAULT 0,
			retained_digest TEXT,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_events (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			role TEXT NOT NULL,
			markdown TEXT NOT NULL,
			citations TEXT,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("eventstore: migrate: %w", err)
		}
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, fmt.Sprint(schemaVersion))
	return err
}

func (s *SQLiteStore) slotFor(runID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.slots[runID]
	if !ok {
		ch = make(chan struct{}, s.queueDepth)
		s.slots[runID] = ch
	}
	return ch
}

func (s *SQLiteStore) Append(ctx context.Context, runID string, parentEventID int64, kind model.EventKind, payload any) (*model.Event, error) {
	slot := s.slotFor(runID)
	select {
	case slot <- struct{}{}:
	default:
		return nil, model.NewError(model.CodeBackpressure, "event store write queue full", nil)
	}
	defer func() { <-slot }()

	canon, err := canonical.Marshal(payload)
	if err != nil {
		return nil, model.NewError(model.CodeInternal, "canonicalize payload", err)
	}
	if err := validatePayload(kind, canon); err != nil {
		return nil, model.NewError(model.CodeSchemaViolation, err.Error(), err)
	}

	ev, result := retry.DoWithValue(ctx, commitRetry, func() (*model.Event, error) {
		return s.appendOnce(ctx, runID, parentEventID, kind, canon)
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return ev, nil
}

// appendOnce runs one begin/insert/commit attempt. A transient "database is
// locked" commit failure (a concurrent writer on another run's slot sharing
// this file) is retried whole from BeginTx, since a committed-or-not tx
// can't be resumed; every other failure, including CodeChainConflict, is
// wrapped retry.Permanent so the caller's retry loop stops immediately.
func (s *SQLiteStore) appendOnce(ctx context.Context, runID string, parentEventID int64, kind model.EventKind, canon []byte) (*model.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, retry.Permanent(model.NewError(model.CodeDurability, "begin tx", err))
	}
	defer tx.Rollback()

	var tipSeq int64
	var tipHash string
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id = ?`, runID)
	if err := row.Scan(&tipSeq); err != nil {
		return nil, retry.Permanent(model.NewError(model.CodeDurability, "read tip seq", err))
	}
	if tipSeq > 0 {
		row = tx.QueryRowContext(ctx, `SELECT hash FROM events WHERE run_id = ? AND seq = ?`, runID, tipSeq)
		if err := row.Scan(&tipHash); err != nil {
			return nil, retry.Permanent(model.NewError(model.CodeDurability, "read tip hash", err))
		}
	}
	if parentEventID != tipSeq {
		return nil, retry.Permanent(model.NewError(model.CodeChainConflict, fmt.Sprintf("parent %d is not the tip %d", parentEventID, tipSeq), nil))
	}

	seq := tipSeq + 1
	now := time.Now().UTC()
	ev := &model.Event{
		ID:            seq,
		RunID:         runID,
		Seq:           seq,
		ParentEventID: parentEventID,
		Kind:          kind,
		SchemaVersion: model.CurrentSchemaVersion,
		CreatedAt:     now,
		Payload:       canon,
		PrevHash:      tipHash,
		Hash:          canonical.Hash(tipHash, canon),
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (run_id, seq, parent_id, kind, schema_version, created_at, payload_blob, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, parentEventID, string(kind), ev.SchemaVersion, now.Format(time.RFC3339Nano), canon, tipHash, ev.Hash,
	); err != nil {
		if isBusyErr(err) {
			return nil, model.NewError(model.CodeDurability, "insert event", err)
		}
		return nil, retry.Permanent(model.NewError(model.CodeDurability, "insert event", err))
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, status, head_event_id, head_hash)
		VALUES (?, ?, 'active', ?, ?)
		ON CONFLICT(id) DO UPDATE SET head_event_id = excluded.head_event_id, head_hash = excluded.head_hash`,
		runID, now.Format(time.RFC3339Nano), seq, ev.Hash,
	); err != nil {
		if isBusyErr(err) {
			return nil, model.NewError(model.CodeDurability, "update run head", err)
		}
		return nil, retry.Permanent(model.NewError(model.CodeDurability, "update run head", err))
	}

	if err := tx.Commit(); err != nil {
		if isBusyErr(err) {
			return nil, model.NewError(model.CodeDurability, "commit", err)
		}
		return nil, retry.Permanent(model.NewError(model.CodeDurability, "commit", err))
	}
	return ev, nil
}

func (s *SQLiteStore) Read(ctx context.Context, runID string, fromID int64, limit int) ([]*model.Event, error) {
	query := `SELECT run_id, seq, parent_id, kind, schema_version, created_at, payload_blob, prev_hash, hash, tombstoned, retained_digest
		FROM events WHERE run_id = ? AND seq >= ? ORDER BY seq ASC`
	args := []any{runID, fromID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewError(model.CodeDurability, "read events", err)
	}
	defer rows.Close()

	var out []*model.Event
	for rows.Next() {
		var ev model.Event
		var kind string
		var createdAt string
		var tombstoned int
		var retainedDigest sql.NullString
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.ParentEventID, &kind, &ev.SchemaVersion, &createdAt, &ev.Payload, &ev.PrevHash, &ev.Hash, &tombstoned, &retainedDigest); err != nil {
			return nil, model.NewError(model.CodeDurability, "scan event", err)
		}
		ev.ID = ev.Seq
		ev.Kind = model.EventKind(kind)
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		ev.Tombstoned = tombstoned != 0
		ev.RetainedDigest = retainedDigest.String
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Tip(ctx context.Context, runID string) (int64, error) {
	var tip int64
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id = ?`, runID)
	if err := row.Scan(&tip); err != nil {
		return 0, model.NewError(model.CodeDurability, "read tip", err)
	}
	return tip, nil
}

func (s *SQLiteStore) Rollback(ctx context.Context, runID string, targetEventID int64) (*model.Event, error) {
	tip, err := s.Tip(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.Append(ctx, runID, tip, model.EventRunRollback, RollbackEvent{TargetEventID: targetEventID})
}

func (s *SQLiteStore) Branch(ctx context.Context, runID string, fromEventID int64) (string, error) {
	tip, err := s.Tip(ctx, runID)
	if err != nil {
		return "", err
	}
	branchID := fmt.Sprintf("%s-branch-%d", runID, fromEventID)
	_, err = s.Append(ctx, runID, tip, model.EventRunBranch, BranchEvent{BranchID: branchID, FromEventID: fromEventID})
	return branchID, err
}

func (s *SQLiteStore) Compact(ctx context.Context, runID string, upToEventID int64, checkpoint model.CheckpointPayload) (*model.Event, error) {
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

func (s *SQLiteStore) Prune(ctx context.Context, runID string, upToEventID int64) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, kind, payload_blob FROM events WHERE run_id = ? AND seq <= ? AND tombstoned = 0`, runID, upToEventID)
	if err != nil {
		return 0, model.NewError(model.CodeDurability, "select prunable", err)
	}
	type prune struct {
		seq    int64
		digest string
	}
	var targets []prune
	for rows.Next() {
		var seq int64
		var kind string
		var payload []byte
		if err := rows.Scan(&seq, &kind, &payload); err != nil {
			rows.Close()
			return 0, model.NewError(model.CodeDurability, "scan prunable", err)
		}
		if prunableKind(model.EventKind(kind)) && payload != nil {
			targets = append(targets, prune{seq: seq, digest: canonical.Digest(payload)})
		}
	}
	rows.Close()
	for _, t := range targets {
		if _, err := s.db.ExecContext(ctx, `UPDATE events SET payload_blob = NULL, retained_digest = ? WHERE run_id = ? AND seq = ?`, t.digest, runID, t.seq); err != nil {
			return len(targets), model.NewError(model.CodeDurability, "prune event", err)
		}
	}
	return len(targets), nil
}

func (s *SQLiteStore) Redact(ctx context.Context, runID string, eventID int64, reason string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload_blob FROM events WHERE run_id = ? AND seq = ?`, runID, eventID)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.NewError(model.CodeNotFound, "event not found", nil)
		}
		return nil, model.NewError(model.CodeDurability, "read event for redaction", err)
	}
	digest := canonical.Digest(payload)
	if _, err := s.db.ExecContext(ctx, `UPDATE events SET payload_blob = NULL, retained_digest = ?, tombstoned = 1 WHERE run_id = ? AND seq = ?`, digest, runID, eventID); err != nil {
		return nil, model.NewError(model.CodeDurability, "redact event", err)
	}
	tip, err := s.Tip(ctx, runID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Append(ctx, runID, tip, model.EventRunRedaction, RedactionEvent{TargetEventID: eventID, Reason: reason}); err != nil {
		return nil, err
	}
	events, err := s.Read(ctx, runID, eventID, 1)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return events[0], nil
}

func (s *SQLiteStore) Verify(ctx context.Context, runID string) (bool, int64, error) {
	events, err := s.Read(ctx, runID, 0, 0)
	if err != nil {
		return false, 0, err
	}
	prevHash := ""
	for _, ev := range events {
		if ev.PrevHash != prevHash {
			return false, ev.Seq, nil
		}
		if ev.Tombstoned || ev.Payload == nil {
			prevHash = ev.Hash
			continue
		}
		if !canonical.Verify(ev.PrevHash, ev.Payload, ev.Hash) {
			return false, ev.Seq, nil
		}
		prevHash = ev.Hash
	}
	return true, 0, nil
}

func (s *SQLiteStore) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY id`)
	if err != nil {
		return nil, model.NewError(model.CodeDurability, "list runs", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, model.NewError(model.CodeDurability, "scan run id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
