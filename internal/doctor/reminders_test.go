package doctor

import (
	"testing"

	"github.com/haasonsaas/sidecar/pkg/model"
)

func TestSummarizeApprovals(t *testing.T) {
	runs := []RunHealth{
		{RunID: "a", State: model.RunStateAwaitingApprove},
		{RunID: "b", State: model.RunStatePaused},
		{RunID: "c", State: model.RunStatePaused},
		{RunID: "d", State: model.RunStateTakeover},
		{RunID: "e", State: model.RunStateFailed},
		{RunID: "f", State: model.RunStateCompleted},
	}

	status := SummarizeApprovals(runs)
	if status.AwaitingApproval != 1 || status.Paused != 2 || status.Takeover != 1 || status.Failed != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestFormatApprovalStatus(t *testing.T) {
	t.Run("nothing to report", func(t *testing.T) {
		got := FormatApprovalStatus(ApprovalStatus{})
		if got != "no runs need attention" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("single awaiting approval", func(t *testing.T) {
		got := FormatApprovalStatus(ApprovalStatus{AwaitingApproval: 1})
		if got != "1 run awaiting approval" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("combines categories", func(t *testing.T) {
		got := FormatApprovalStatus(ApprovalStatus{AwaitingApproval: 2, Paused: 1})
		want := "2 runs awaiting approval, 1 run paused"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})
}
