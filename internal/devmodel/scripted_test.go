package devmodel

import (
	"context"
	"encoding/json"
	"testing"
)

func TestScriptedModelReplaysInOrder(t *testing.T) {
	model := NewScriptedModel([]Step{
		{Document: "", ToolCalls: []ScriptedCall{{RequestID: "r1", Tool: "browser.navigate", Args: map[string]any{"url": "https://example.com"}}}},
		{Document: "done"},
	})

	first, err := model.Complete(context.Background(), nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	var decoded Step
	if err := json.Unmarshal([]byte(first), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.ToolCalls) != 1 || decoded.ToolCalls[0].Tool != "browser.navigate" {
		t.Fatalf("got %+v", decoded)
	}

	second, err := model.Complete(context.Background(), nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := json.Unmarshal([]byte(second), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Document != "done" {
		t.Fatalf("got document %q", decoded.Document)
	}
}

func TestScriptedModelExhaustedEndsRun(t *testing.T) {
	model := NewScriptedModel(nil)
	out, err := model.Complete(context.Background(), nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	var decoded Step
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.ToolCalls) != 0 {
		t.Fatalf("expected no tool calls once exhausted, got %+v", decoded.ToolCalls)
	}
}
