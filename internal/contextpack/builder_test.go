package contextpack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/sidecar/pkg/model"
)

func TestBuild_IncludesInvariantGoalAndObservation(t *testing.T) {
	obs := &model.Observation{DocumentID: "d1", URL: "https://example.com", VisibleText: []string{"hello world"}}
	pack := Build(Input{
		Goal:         "summarize this page",
		Observation:  obs,
		Mode:         model.ModeAssist,
		AllowedTools: []string{"browser.click"},
		BudgetTokens: 8000,
	})

	require.Equal(t, model.ModeAssist, pack.Invariant.Mode)
	require.Equal(t, "summarize this page", pack.Goal)
	require.NotNil(t, pack.Observation)
	require.False(t, pack.Degraded)
}

func TestBuild_DegradesWhenBudgetTooTightForObservation(t *testing.T) {
	longText := strings.Repeat("this page has a lot of visible text content ", 200)
	obs := &model.Observation{DocumentID: "d1", VisibleText: []string{longText}}
	pack := Build(Input{
		Goal:         "summarize",
		Observation:  obs,
		BudgetTokens: 20,
	})

	require.True(t, pack.Degraded)
	require.Nil(t, pack.Observation)
	require.NotEmpty(t, pack.DegradedReason)
}

func TestBuild_TruncatesStepTrailTailFirst(t *testing.T) {
	var trail []StepTrailEntry
	for i := 0; i < 30; i++ {
		trail = append(trail, StepTrailEntry{
			ToolRequest: &model.ToolRequestPayload{RequestID: "r", Tool: strings.Repeat("x", 50)},
		})
	}
	pack := Build(Input{
		Goal:         "goal",
		StepTrail:    trail,
		BudgetTokens: 40,
	})

	require.Less(t, len(pack.StepTrail), len(trail))
}

func TestBuild_ScreensCredentialLikeText(t *testing.T) {
	pack := Build(Input{
		Goal:         "login using password: hunter2 on this page",
		BudgetTokens: 8000,
	})
	require.NotContains(t, pack.Goal, "hunter2")
}

func TestBuild_IncludesCheckpointWithinBudget(t *testing.T) {
	pack := Build(Input{
		Goal: "goal",
		Checkpoints: []model.CheckpointPayload{
			{Goal: "earlier goal", KeyFacts: []string{"fact one"}},
		},
		BudgetTokens: 8000,
	})
	require.Len(t, pack.Checkpoints, 1)
}
