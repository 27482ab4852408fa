// Package toolrouter implements the Tool Router of spec §4.5: validates
// tool-call proposals against typed schemas and a capability token,
// dispatches to the external executor, and records results as events.
//
// Dispatch follows the teacher's internal/agent/executor.go
// Executor/ExecuteAll shape (parallel dispatch with backpressure),
// generalized from global concurrency to per-(tab,frame) serialization
// for mutating calls, with at-most-once semantics backed by the Event
// Store instead of an in-memory map (internal/agent/loop.go's
// requestId-keyed async job queuing, made durable).
package toolrouter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/haasonsaas/sidecar/internal/captoken"
	"github.com/haasonsaas/sidecar/internal/eventstore"
	"github.com/haasonsaas/sidecar/internal/net/ssrf"
	"github.com/haasonsaas/sidecar/pkg/model"
)

// ToolExecutor is the out-of-scope external collaborator (extension
// bridge, or the local dev bridge's Playwright-backed stand-in) that
// actually performs a tool call against the page.
type ToolExecutor interface {
	Execute(ctx context.Context, call model.ToolCall) (model.ToolResult, error)
}

// Request is everything Dispatch needs to validate, gate-check, and
// execute one proposed tool call.
type Request struct {
	RunID           string
	Call            model.ToolCall
	FrameID         string
	CapabilityToken string
	ExpectedBinding model.Binding
	Observation     *model.Observation
	Deadline        time.Duration
}

// Router validates and dispatches tool calls per spec §4.5.
type Router struct {
	schemas  *SchemaRegistry
	tokens   *captoken.Service
	store    eventstore.Store
	executor ToolExecutor
	mutating *mutatingQueue
	reads    *readThrottle
}

// Config configures a Router.
type Config struct {
	Schemas           *SchemaRegistry
	Tokens            *captoken.Service
	Store             eventstore.Store
	Executor          ToolExecutor
	MutatingPerSecond float64
	MutatingBurst     int
	ReadsPerSecond    float64
	ReadsBurst        int
}

// New builds a Router from Config.
func New(cfg Config) *Router {
	return &Router{
		schemas:  cfg.Schemas,
		tokens:   cfg.Tokens,
		store:    cfg.Store,
		executor: cfg.Executor,
		mutating: newMutatingQueue(cfg.MutatingPerSecond, cfg.MutatingBurst),
		reads:    newReadThrottle(cfg.ReadsPerSecond, cfg.ReadsBurst),
	}
}

// Dispatch validates req, verifies its capability token, serializes
// mutating calls per (tab, frame), invokes the executor with a deadline,
// and records the outcome as a tool.result event.
func (r *Router) Dispatch(ctx context.Context, req Request) (model.ToolResult, error) {
	schema, ok := r.schemas.Get(req.Call.Tool)
	if !ok {
		return model.ToolResult{}, model.NewError(model.CodeValidation, fmt.Sprintf("unknown tool %q", req.Call.Tool), nil)
	}
	if err := r.schemas.Validate(req.Call.Tool, req.Call.Args); err != nil {
		return model.ToolResult{}, err
	}

	if req.Call.TargetHandle != "" {
		if req.Observation == nil || !req.Observation.HandleKnown(req.Call.TargetHandle) {
			return model.ToolResult{}, model.NewError(model.CodeStaleHandle, "target handle is not present in the latest observation", nil)
		}
	}

	if req.Call.Tool == "browser.navigate" {
		if err := checkNavigateTarget(req.Call.Args); err != nil {
			return model.ToolResult{}, err
		}
	}

	claims, err := r.tokens.Verify(req.CapabilityToken, req.ExpectedBinding, req.Call.Tool)
	if err != nil {
		return model.ToolResult{}, err
	}

	if existing, found, err := r.findCachedResult(ctx, req.RunID, req.Call.RequestID); err != nil {
		return model.ToolResult{}, err
	} else if found {
		return existing, nil
	}

	var release func()
	key := req.ExpectedBinding.TabID + "|" + req.FrameID
	if schema.Mutating {
		rel, ok := r.mutating.Acquire(key)
		if !ok {
			return model.ToolResult{}, model.NewError(model.CodeRateLimited, "mutating tool queue is full for this tab/frame; re-plan", nil)
		}
		release = rel
	} else if !r.reads.Allow() {
		return model.ToolResult{}, model.NewError(model.CodeRateLimited, "read-only dispatch rate exceeded", nil)
	}
	if release != nil {
		defer release()
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := r.recordRequest(ctx, req, claims.KeyID); err != nil {
		return model.ToolResult{}, err
	}

	result, execErr := r.executor.Execute(dctx, req.Call)
	if execErr != nil {
		ce := toCoreError(execErr)
		result = model.ToolResult{
			RequestID: req.Call.RequestID,
			Success:   false,
			ErrorCode: ce.Code,
			ErrorMsg:  ce.Error(),
		}
	}
	result.RequestID = req.Call.RequestID
	if result.Success && result.Result != nil {
		result.ContentHash = contentHash(result.Result)
	}

	if err := r.recordResult(ctx, req.RunID, req.Call.Tool, result); err != nil {
		return result, err
	}
	if execErr != nil {
		return result, execErr
	}
	return result, nil
}

func toCoreError(err error) *model.CoreError {
	if ce, ok := err.(*model.CoreError); ok {
		return ce
	}
	return model.NewError(model.CodeInternal, err.Error(), err)
}

func contentHash(result map[string]any) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// findCachedResult enforces at-most-once execution for side-effecting
// tools: if requestID already has a tool.result event in this run's log,
// Dispatch returns it instead of executing again, per spec §4.5.
func (r *Router) findCachedResult(ctx context.Context, runID, requestID string) (model.ToolResult, bool, error) {
	events, err := r.store.Read(ctx, runID, 0, 0)
	if err != nil {
		return model.ToolResult{}, false, model.NewError(model.CodeDurability, "read event log for idempotency check", err)
	}
	for _, ev := range events {
		if ev.Kind != model.EventToolResult || ev.Tombstoned || ev.Payload == nil {
			continue
		}
		var p model.ToolResultPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			continue
		}
		if p.RequestID == requestID {
			return model.ToolResult{
				RequestID:   p.RequestID,
				Success:     p.Success,
				Result:      p.Result,
				ContentHash: p.ContentHash,
				ErrorCode:   model.Code(p.ErrorCode),
				ErrorMsg:    p.ErrorMsg,
			}, true, nil
		}
	}
	return model.ToolResult{}, false, nil
}

func (r *Router) recordRequest(ctx context.Context, req Request, capabilityKeyID string) error {
	tip, err := r.store.Tip(ctx, req.RunID)
	if err != nil {
		return model.NewError(model.CodeDurability, "read tip before tool.request", err)
	}
	_, err = r.store.Append(ctx, req.RunID, tip, model.EventToolRequest, model.ToolRequestPayload{
		RequestID:       req.Call.RequestID,
		IdempotencyKey:  req.Call.IdempotencyKey,
		Tool:            req.Call.Tool,
		Args:            req.Call.Args,
		DocumentID:      req.ExpectedBinding.DocumentID,
		NavigationGen:   req.ExpectedBinding.NavigationGen,
		TabID:           req.ExpectedBinding.TabID,
		FrameID:         req.FrameID,
		CapabilityKeyID: capabilityKeyID,
	})
	if err != nil {
		return model.NewError(model.CodeDurability, "append tool.request", err)
	}
	return nil
}

func (r *Router) recordResult(ctx context.Context, runID, tool string, result model.ToolResult) error {
	tip, err := r.store.Tip(ctx, runID)
	if err != nil {
		return model.NewError(model.CodeDurability, "read tip before tool.result", err)
	}
	_, err = r.store.Append(ctx, runID, tip, model.EventToolResult, model.ToolResultPayload{
		RequestID:   result.RequestID,
		Tool:        tool,
		Success:     result.Success,
		Result:      result.Result,
		ContentHash: result.ContentHash,
		ErrorCode:   string(result.ErrorCode),
		ErrorMsg:    result.ErrorMsg,
	})
	if err != nil {
		return model.NewError(model.CodeDurability, "append tool.result", err)
	}
	return nil
}

// checkNavigateTarget blocks navigation to private, link-local, or
// metadata-endpoint hosts, grounded directly on internal/net/ssrf. Not
// named by the distilled spec; a natural hardening any complete
// browser-agent tool surface carries (SPEC_FULL.md §6).
func checkNavigateTarget(args map[string]any) error {
	raw, _ := args["url"].(string)
	if raw == "" {
		return model.NewError(model.CodeValidation, "browser.navigate requires a url", nil)
	}
	host, err := extractHost(raw)
	if err != nil {
		return model.NewError(model.CodeValidation, "browser.navigate url is not parseable", err)
	}
	if err := ssrf.ValidatePublicHostname(host); err != nil {
		return model.NewError(model.CodePermission, "navigation target resolves to a blocked internal or metadata address", err)
	}
	return nil
}

func extractHost(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url has no host")
	}
	return u.Hostname(), nil
}
