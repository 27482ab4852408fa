package localbrowser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// requireExecutor skips in short mode: these tests launch a real Chromium
// via Playwright, following the teacher's requirePlaywright gate
// (internal/tools/browser/browser_test.go) so `go test -short` never
// depends on a browser binary being installed.
func requireExecutor(t *testing.T) *Executor {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping local browser integration tests in short mode")
	}
	exec, err := New(Config{Headless: true})
	if err != nil {
		t.Skipf("playwright unavailable: %v", err)
	}
	t.Cleanup(func() { _ = exec.Close() })
	return exec
}

func TestExecutorNavigateObserveAndExtract(t *testing.T) {
	exec := requireExecutor(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p id="greeting">hello from the test page</p><button>Go</button></body></html>`))
	}))
	defer srv.Close()

	navResult, err := exec.Execute(context.Background(), model.ToolCall{
		RequestID: "req-1",
		Tool:      "browser.navigate",
		Args:      map[string]any{"url": srv.URL},
	})
	if err != nil {
		t.Fatalf("Execute(navigate) error = %v", err)
	}
	if !navResult.Success {
		t.Fatalf("navigate failed: %s", navResult.ErrorMsg)
	}

	obs, err := exec.Observe(context.Background(), model.Binding{})
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if len(obs.InteractiveElems) == 0 {
		t.Fatal("expected at least one interactive element (the button)")
	}
	handle := obs.InteractiveElems[0].Handle

	extractResult, err := exec.Execute(context.Background(), model.ToolCall{
		RequestID: "req-2",
		Tool:      "browser.extract",
		Args:      map[string]any{"handle": string(handle)},
	})
	if err != nil {
		t.Fatalf("Execute(extract) error = %v", err)
	}
	if !extractResult.Success {
		t.Fatalf("extract failed: %s", extractResult.ErrorMsg)
	}
}

func TestExecutorStaleHandleFailsClosed(t *testing.T) {
	exec := requireExecutor(t)

	result, err := exec.Execute(context.Background(), model.ToolCall{
		RequestID: "req-3",
		Tool:      "browser.click",
		Args:      map[string]any{"handle": "el-999"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success || result.ErrorCode != model.CodeStaleHandle {
		t.Fatalf("got %+v, want failure with CodeStaleHandle", result)
	}
}

func TestExecutorUnknownToolFailsClosed(t *testing.T) {
	exec := requireExecutor(t)

	result, err := exec.Execute(context.Background(), model.ToolCall{
		RequestID: "req-4",
		Tool:      "browser.teleport",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success || result.ErrorCode != model.CodeToolNotPermitted {
		t.Fatalf("got %+v, want failure with CodeToolNotPermitted", result)
	}
}

func TestExecutorNavigateRequiresURL(t *testing.T) {
	exec := requireExecutor(t)

	result, err := exec.Execute(context.Background(), model.ToolCall{
		RequestID: "req-5",
		Tool:      "browser.navigate",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success || result.ErrorCode != model.CodeValidation {
		t.Fatalf("got %+v, want validation failure", result)
	}
}
