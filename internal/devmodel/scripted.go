// Package devmodel provides a scripted stand-in for the local model runtime,
// used by the `sidecar run` CLI command and integration tests in place of a
// real model client. It implements orchestrator.RawText the same way the
// teacher's loopTestProvider (internal/agent/loop_test.go) replays a queue of
// canned completions instead of calling a real provider: each call to
// Complete pops the next scripted response, falling back to a document-only
// "No further scripted steps; ending the run." response once the queue is drained so a run
// always terminates instead of looping forever on an empty script.
package devmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/haasonsaas/sidecar/internal/contextpack"
)

// Step is one scripted turn: a free-text document and at most one tool call
// proposal, serialized as PlanResult's JSON shape by ScriptedModel.Complete.
type Step struct {
	Document  string           `json:"document"`
	ToolCalls []ScriptedCall   `json:"tool_calls,omitempty"`
}

// ScriptedCall mirrors model.ToolCall's JSON shape without importing pkg/model,
// so script files stay decoupled from internal wire-format changes.
type ScriptedCall struct {
	RequestID string         `json:"request_id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
}

// ScriptedModel replays a fixed sequence of Steps, one per Complete call.
type ScriptedModel struct {
	mu    sync.Mutex
	steps []Step
	pos   int
}

// NewScriptedModel builds a ScriptedModel that replays steps in order.
func NewScriptedModel(steps []Step) *ScriptedModel {
	return &ScriptedModel{steps: steps}
}

// LoadScript reads a JSON array of Steps from path, for the `sidecar run
// --script` flag.
func LoadScript(path string) (*ScriptedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devmodel: read script: %w", err)
	}
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("devmodel: parse script: %w", err)
	}
	return NewScriptedModel(steps), nil
}

// Complete implements orchestrator.RawText.
func (m *ScriptedModel) Complete(ctx context.Context, pack *contextpack.Pack) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos >= len(m.steps) {
		return `{"document":"No further scripted steps; ending the run.","tool_calls":[]}`, nil
	}
	step := m.steps[m.pos]
	m.pos++

	out, err := json.Marshal(step)
	if err != nil {
		return "", fmt.Errorf("devmodel: marshal scripted step: %w", err)
	}
	return string(out), nil
}
