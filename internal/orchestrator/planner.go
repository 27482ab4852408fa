package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/sidecar/internal/contextpack"
	"github.com/haasonsaas/sidecar/pkg/model"
)

// PlanResult is the structured output a planner invocation must produce per
// spec §4.6: a rendered answer document plus at most one tool-call proposal
// (a planner may propose more; the Orchestrator only ever honors the
// first, for determinism and reviewability).
type PlanResult struct {
	Document  string          `json:"document"`
	ToolCalls []model.ToolCall `json:"tool_calls"`
}

// Planner invokes the model with an assembled context pack and returns its
// structured plan. Implementations own model selection, streaming, and
// whatever raw-text tolerance they need; TextPlanner below is provided
// for planners that only produce free text.
type Planner interface {
	Plan(ctx context.Context, pack *contextpack.Pack) (PlanResult, error)
}

// RawText is implemented by a model client that returns unstructured text;
// TextPlanner wraps one of these and extracts the plan per spec §4.6's
// parser contract.
type RawText interface {
	Complete(ctx context.Context, pack *contextpack.Pack) (string, error)
}

// TextPlanner adapts a RawText model client into a Planner, tolerating
// incidental non-JSON framing around the structured object (code fences,
// leading prose) the way spec §4.6 requires: "The parser must tolerate
// incidental non-JSON framing and extract the first well-formed structured
// object; anything else is treated as a document-only result with no tool
// calls. Unknown tool names are ignored."
type TextPlanner struct {
	Model        RawText
	KnownTools   map[string]bool
}

// NewTextPlanner builds a TextPlanner that only honors tool-call proposals
// naming one of knownTools.
func NewTextPlanner(model RawText, knownTools []string) *TextPlanner {
	known := make(map[string]bool, len(knownTools))
	for _, t := range knownTools {
		known[strings.ToLower(t)] = true
	}
	return &TextPlanner{Model: model, KnownTools: known}
}

func (p *TextPlanner) Plan(ctx context.Context, pack *contextpack.Pack) (PlanResult, error) {
	raw, err := p.Model.Complete(ctx, pack)
	if err != nil {
		return PlanResult{}, err
	}
	return ParsePlanOutput(raw, p.KnownTools), nil
}

// ParsePlanOutput extracts the first well-formed JSON object from raw and
// decodes it as a PlanResult. Anything that doesn't parse as a structured
// object is treated as a document-only result with no tool calls; unknown
// tool names in an otherwise-valid object are dropped rather than failing
// the whole parse, so the model does not get to execute made-up tools
// simply by proposing them.
func ParsePlanOutput(raw string, knownTools map[string]bool) PlanResult {
	obj, ok := firstJSONObject(raw)
	if !ok {
		return PlanResult{Document: strings.TrimSpace(raw)}
	}

	var decoded struct {
		Document  string           `json:"document"`
		ToolCalls []model.ToolCall `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(obj), &decoded); err != nil {
		return PlanResult{Document: strings.TrimSpace(raw)}
	}

	result := PlanResult{Document: decoded.Document}
	for _, call := range decoded.ToolCalls {
		if knownTools != nil && !knownTools[strings.ToLower(call.Tool)] {
			continue
		}
		result.ToolCalls = append(result.ToolCalls, call)
		break // at most one tool-call proposal is honored per step
	}
	return result
}

// firstJSONObject scans raw for the first balanced `{...}` span and reports
// whether one was found, tolerating code-fence or prose framing around it.
func firstJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal; braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}
