package eventstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// validatePayload rejects a payload that does not match the minimum shape
// required for kind, so schema drift on append is a loud SchemaViolation
// rather than a silently-stored malformed event. This mirrors the
// teacher's strict, unknown-field-rejecting config decode discipline
// (internal/config.Load) applied to event payloads instead of config files.
func validatePayload(kind model.EventKind, canonical []byte) error {
	switch kind {
	case model.EventToolRequest:
		var p model.ToolRequestPayload
		if err := strictUnmarshal(canonical, &p); err != nil {
			return err
		}
		if p.RequestID == "" || p.Tool == "" {
			return fmt.Errorf("tool.request requires request_id and tool")
		}
	case model.EventToolResult:
		var p model.ToolResultPayload
		if err := strictUnmarshal(canonical, &p); err != nil {
			return err
		}
		if p.RequestID == "" {
			return fmt.Errorf("tool.result requires request_id")
		}
	case model.EventPolicyDecision:
		var p model.PolicyDecisionPayload
		if err := strictUnmarshal(canonical, &p); err != nil {
			return err
		}
		if p.Decision == "" || p.ReasonCode == "" {
			return fmt.Errorf("policy.decision requires decision and reason_code")
		}
	case model.EventRunState:
		var p model.RunStatePayload
		if err := strictUnmarshal(canonical, &p); err != nil {
			return err
		}
		if p.To == "" {
			return fmt.Errorf("run.state requires to")
		}
	case model.EventRunCheckpoint:
		var p model.CheckpointPayload
		if err := strictUnmarshal(canonical, &p); err != nil {
			return err
		}
	case model.EventRunRollback:
		var p RollbackEvent
		if err := strictUnmarshal(canonical, &p); err != nil {
			return err
		}
		if p.TargetEventID <= 0 {
			return fmt.Errorf("run.rollback requires a positive target_event_id")
		}
	case model.EventRunBranch:
		var p BranchEvent
		if err := strictUnmarshal(canonical, &p); err != nil {
			return err
		}
		if p.BranchID == "" {
			return fmt.Errorf("run.branch requires branch_id")
		}
	case model.EventRunRedaction:
		var p RedactionEvent
		if err := strictUnmarshal(canonical, &p); err != nil {
			return err
		}
		if p.TargetEventID <= 0 {
			return fmt.Errorf("run.redaction requires a positive target_event_id")
		}
	case model.EventPageObserve:
		var p model.Observation
		if err := strictUnmarshal(canonical, &p); err != nil {
			return err
		}
		if p.DocumentID == "" {
			return fmt.Errorf("page.observe requires document_id")
		}
	default:
		// user.*, model.plan.* payloads are free-form narrative/structured
		// content; only well-formed JSON is required of them.
		var generic any
		if err := json.Unmarshal(canonical, &generic); err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}
	}
	return nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("payload does not match %T: %w", v, err)
	}
	return nil
}
