package toolrouter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/sidecar/internal/captoken"
	"github.com/haasonsaas/sidecar/internal/eventstore"
	"github.com/haasonsaas/sidecar/pkg/model"
)

type fakeExecutor struct {
	calls   int
	result  model.ToolResult
	err     error
	delay   time.Duration
}

func (f *fakeExecutor) Execute(ctx context.Context, call model.ToolCall) (model.ToolResult, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.ToolResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return model.ToolResult{}, f.err
	}
	return f.result, nil
}

func newTestRouter(t *testing.T, exec ToolExecutor) (*Router, eventstore.Store, *captoken.Service) {
	t.Helper()
	registry := NewSchemaRegistry()
	for _, s := range DefaultToolSchemas() {
		require.NoError(t, registry.Register(s))
	}
	store := eventstore.NewMemoryStore(16)
	tokens, err := captoken.NewService()
	require.NoError(t, err)
	router := New(Config{
		Schemas:           registry,
		Tokens:            tokens,
		Store:             store,
		Executor:          exec,
		MutatingPerSecond: 100,
		MutatingBurst:     100,
		ReadsPerSecond:    100,
		ReadsBurst:        100,
	})
	return router, store, tokens
}

func testBinding() model.Binding {
	return model.Binding{
		RunID:         "run-1",
		ProfileID:     "profile-1",
		Origin:        "https://example.com",
		TabID:         "tab-1",
		DocumentID:    "doc-1",
		NavigationGen: 1,
		Mode:          model.ModeAssist,
	}
}

func TestDispatch_HappyPath(t *testing.T) {
	exec := &fakeExecutor{result: model.ToolResult{Success: true, Result: map[string]any{"ok": true}}}
	router, _, tokens := newTestRouter(t, exec)
	binding := testBinding()
	tok, err := tokens.Mint(binding, []string{"browser.observe"}, time.Minute)
	require.NoError(t, err)

	result, err := router.Dispatch(context.Background(), Request{
		RunID:           binding.RunID,
		Call:            model.ToolCall{RequestID: "req-1", Tool: "browser.observe", Args: map[string]any{}},
		CapabilityToken: tok.Raw,
		ExpectedBinding: binding,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, exec.calls)
}

func TestDispatch_AtMostOnce(t *testing.T) {
	exec := &fakeExecutor{result: model.ToolResult{Success: true, Result: map[string]any{"ok": true}}}
	router, _, tokens := newTestRouter(t, exec)
	binding := testBinding()
	tok, err := tokens.Mint(binding, []string{"browser.click"}, time.Minute)
	require.NoError(t, err)

	req := Request{
		RunID: binding.RunID,
		Call: model.ToolCall{
			RequestID:    "req-dup",
			Tool:         "browser.click",
			Args:         map[string]any{"handle": "h1"},
			TargetHandle: model.ElementHandle("h1"),
		},
		CapabilityToken: tok.Raw,
		ExpectedBinding: binding,
		Observation: &model.Observation{
			InteractiveElems: []model.InteractiveElement{{Handle: "h1"}},
		},
	}

	first, err := router.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := router.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.RequestID, second.RequestID)
	require.Equal(t, 1, exec.calls, "executor must not run twice for the same request id")
}

func TestDispatch_StaleHandleRejected(t *testing.T) {
	exec := &fakeExecutor{result: model.ToolResult{Success: true}}
	router, _, tokens := newTestRouter(t, exec)
	binding := testBinding()
	tok, err := tokens.Mint(binding, []string{"browser.click"}, time.Minute)
	require.NoError(t, err)

	_, err = router.Dispatch(context.Background(), Request{
		RunID: binding.RunID,
		Call: model.ToolCall{
			RequestID:    "req-stale",
			Tool:         "browser.click",
			Args:         map[string]any{"handle": "ghost"},
			TargetHandle: model.ElementHandle("ghost"),
		},
		CapabilityToken: tok.Raw,
		ExpectedBinding: binding,
		Observation:     &model.Observation{},
	})
	require.Error(t, err)
	require.Equal(t, model.CodeStaleHandle, model.CodeOf(err))
	require.Equal(t, 0, exec.calls)
}

func TestDispatch_TokenVerificationFailurePropagates(t *testing.T) {
	exec := &fakeExecutor{result: model.ToolResult{Success: true}}
	router, _, tokens := newTestRouter(t, exec)
	binding := testBinding()
	tok, err := tokens.Mint(binding, []string{"browser.observe"}, time.Minute)
	require.NoError(t, err)

	wrongBinding := binding
	wrongBinding.TabID = "tab-2"

	_, err = router.Dispatch(context.Background(), Request{
		RunID:           binding.RunID,
		Call:            model.ToolCall{RequestID: "req-mismatch", Tool: "browser.observe", Args: map[string]any{}},
		CapabilityToken: tok.Raw,
		ExpectedBinding: wrongBinding,
	})
	require.Error(t, err)
	require.Equal(t, model.CodeBindingMismatch, model.CodeOf(err))
	require.Equal(t, 0, exec.calls)
}

func TestDispatch_MutatingCallsSerializedPerTabFrame(t *testing.T) {
	exec := &fakeExecutor{result: model.ToolResult{Success: true}, delay: 50 * time.Millisecond}
	registry := NewSchemaRegistry()
	for _, s := range DefaultToolSchemas() {
		require.NoError(t, registry.Register(s))
	}
	store := eventstore.NewMemoryStore(16)
	tokens, err := captoken.NewService()
	require.NoError(t, err)
	router := New(Config{
		Schemas:           registry,
		Tokens:            tokens,
		Store:             store,
		Executor:          exec,
		MutatingPerSecond: 100,
		MutatingBurst:     1,
		ReadsPerSecond:    100,
		ReadsBurst:        100,
	})

	binding := testBinding()
	tok, err := tokens.Mint(binding, []string{"browser.scroll"}, time.Minute)
	require.NoError(t, err)

	done := make(chan error, 2)
	dispatch := func(reqID string) {
		_, err := router.Dispatch(context.Background(), Request{
			RunID:           binding.RunID,
			Call:            model.ToolCall{RequestID: reqID, Tool: "browser.scroll", Args: map[string]any{}},
			CapabilityToken: tok.Raw,
			ExpectedBinding: binding,
		})
		done <- err
	}
	go dispatch("req-a")
	time.Sleep(5 * time.Millisecond)
	go dispatch("req-b")

	err1 := <-done
	err2 := <-done
	codes := []model.Code{model.CodeOf(err1), model.CodeOf(err2)}
	rateLimited := 0
	for _, c := range codes {
		if c == model.CodeRateLimited {
			rateLimited++
		}
	}
	require.Equal(t, 1, rateLimited, "exactly one concurrent call on the same tab/frame must be rejected")
}
