package doctor

import (
	"context"
	"testing"

	"github.com/haasonsaas/sidecar/internal/eventstore"
	"github.com/haasonsaas/sidecar/pkg/model"
)

func TestProbeRunsReportsHealthyRun(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore(0)

	ev, err := store.Append(ctx, "run-1", 0, model.EventUserMessage, map[string]any{"goal": "summarize this page"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := store.Append(ctx, "run-1", ev.Seq, model.EventRunState, model.RunStatePayload{From: model.RunStateIdle, To: model.RunStateObserving}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	results, err := ProbeRuns(ctx, store)
	if err != nil {
		t.Fatalf("ProbeRuns() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 run, got %d", len(results))
	}
	health := results[0]
	if health.RunID != "run-1" {
		t.Fatalf("RunID = %q, want run-1", health.RunID)
	}
	if !health.ChainOK {
		t.Fatalf("expected chain OK, got break at %d", health.BreakAt)
	}
	if health.State != model.RunStateObserving {
		t.Fatalf("State = %q, want observing", health.State)
	}
	if health.Unhealthy() {
		t.Fatalf("expected a healthy run")
	}
}

func TestProbeRunsFlagsForcedPause(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore(0)

	ev, _ := store.Append(ctx, "run-2", 0, model.EventUserMessage, map[string]any{"goal": "click submit"})
	ev, _ = store.Append(ctx, "run-2", ev.Seq, model.EventRunState, model.RunStatePayload{From: model.RunStateVerifying, To: model.RunStateExecuting})
	_, _ = store.Append(ctx, "run-2", ev.Seq, model.EventToolRequest, model.ToolRequestPayload{RequestID: "req-1", Tool: "browser.click"})

	results, err := ProbeRuns(ctx, store)
	if err != nil {
		t.Fatalf("ProbeRuns() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 run, got %d", len(results))
	}
	health := results[0]
	if !health.ForcedPause {
		t.Fatal("expected a forced pause for an execution with no matching tool.result")
	}
	if health.State != model.RunStatePaused {
		t.Fatalf("State = %q, want paused", health.State)
	}
	if !health.Unhealthy() {
		t.Fatal("expected a forced-pause run to be reported unhealthy")
	}
}

func TestProbeRunsEmptyStore(t *testing.T) {
	results, err := ProbeRuns(context.Background(), eventstore.NewMemoryStore(0))
	if err != nil {
		t.Fatalf("ProbeRuns() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no runs, got %d", len(results))
	}
}

func TestProbeRunsNilStore(t *testing.T) {
	results, err := ProbeRuns(context.Background(), nil)
	if err != nil || results != nil {
		t.Fatalf("expected (nil, nil) for nil store, got (%v, %v)", results, err)
	}
}
