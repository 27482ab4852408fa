package doctor

import (
	"fmt"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// ApprovalStatus summarizes how many runs are waiting on a human right
// now, following the teacher's ReminderStatus shape (internal/doctor/
// reminders.go) repointed from scheduled-reminder bookkeeping to the
// run states a `sidecar doctor` operator actually needs to triage:
// awaiting_approval, paused, and takeover.
type ApprovalStatus struct {
	AwaitingApproval int `json:"awaiting_approval"`
	Paused           int `json:"paused"`
	Takeover         int `json:"takeover"`
	Failed           int `json:"failed"`
}

// SummarizeApprovals tallies run states from a health probe into an
// ApprovalStatus, for the doctor CLI's one-line triage summary.
func SummarizeApprovals(runs []RunHealth) ApprovalStatus {
	var status ApprovalStatus
	for _, r := range runs {
		switch r.State {
		case model.RunStateAwaitingApprove:
			status.AwaitingApproval++
		case model.RunStatePaused:
			status.Paused++
		case model.RunStateTakeover:
			status.Takeover++
		case model.RunStateFailed:
			status.Failed++
		}
	}
	return status
}

// FormatApprovalStatus returns a human-readable one-line summary.
func FormatApprovalStatus(status ApprovalStatus) string {
	if status.AwaitingApproval == 0 && status.Paused == 0 && status.Takeover == 0 && status.Failed == 0 {
		return "no runs need attention"
	}

	var parts []string
	if status.AwaitingApproval > 0 {
		parts = append(parts, formatCount(status.AwaitingApproval, "run")+" awaiting approval")
	}
	if status.Paused > 0 {
		parts = append(parts, formatCount(status.Paused, "run")+" paused")
	}
	if status.Takeover > 0 {
		parts = append(parts, formatCount(status.Takeover, "run")+" in takeover")
	}
	if status.Failed > 0 {
		parts = append(parts, formatCount(status.Failed, "run")+" failed")
	}

	result := parts[0]
	for _, p := range parts[1:] {
		result += ", " + p
	}
	return result
}

func formatCount(n int, singular string) string {
	if n == 1 {
		return "1 " + singular
	}
	return fmt.Sprintf("%d %ss", n, singular)
}
