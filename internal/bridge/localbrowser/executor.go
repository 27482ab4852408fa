// Package localbrowser is a Playwright-backed stand-in for the real
// extension bridge, used by the `sidecar run` CLI command and integration
// tests. It implements toolrouter.ToolExecutor and orchestrator.Observer
// directly against a live Chromium page instead of relaying through a
// browser extension, so the rest of the stack (Policy Gate, Context Pack
// Builder, Tool Router, capability tokens) can be exercised end to end
// without one.
//
// It is grounded on the teacher's internal/tools/browser/browser.go and
// pool.go: same action set (navigate/click/type/extract/scroll), same
// one-Page-per-instance shape, collapsed from a multi-instance pool to the
// single page a dev run actually drives. Where the teacher's BrowserTool
// took raw CSS selectors as arguments, Executor resolves the core's opaque
// model.ElementHandle indirection (pkg/model/observation.go) against a
// handle table built by the most recent Observe call, since this is the
// only component standing in for the real extraction layer that mints
// handles in the first place.
package localbrowser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// Config configures the local browser executor.
type Config struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	Timeout        time.Duration
	RemoteURL      string // optional ws:// Playwright server, as the pool supports
}

// Executor drives a single Chromium page and implements both
// toolrouter.ToolExecutor and orchestrator.Observer. Not safe for
// concurrent tool dispatch beyond what the Tool Router already serializes
// per (tab, frame).
type Executor struct {
	cfg     Config
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext

	mu      sync.Mutex
	page    playwright.Page
	handles map[model.ElementHandle]string // handle -> CSS selector
	navGen  int64
}

// New installs and launches Playwright, returning an Executor bound to a
// single fresh browser context and page.
func New(cfg Config) (*Executor, error) {
	if cfg.ViewportWidth == 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight == 0 {
		cfg.ViewportHeight = 800
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.RemoteURL == "" {
		if err := playwright.Install(&playwright.RunOptions{Verbose: false}); err != nil {
			return nil, fmt.Errorf("localbrowser: install playwright: %w", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("localbrowser: start playwright: %w", err)
	}

	var browser playwright.Browser
	if cfg.RemoteURL != "" {
		browser, err = pw.Chromium.Connect(cfg.RemoteURL)
	} else {
		browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(cfg.Headless),
		})
	}
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("localbrowser: launch chromium: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight},
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("localbrowser: new browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("localbrowser: new page: %w", err)
	}

	return &Executor{
		cfg:     cfg,
		pw:      pw,
		browser: browser,
		context: bctx,
		page:    page,
		handles: make(map[model.ElementHandle]string),
	}, nil
}

// Close tears down the browser context, browser, and Playwright driver.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.context != nil {
		record(e.context.Close())
	}
	if e.browser != nil {
		record(e.browser.Close())
	}
	if e.pw != nil {
		record(e.pw.Stop())
	}
	return firstErr
}

// resolve looks up the CSS selector behind an opaque handle minted by the
// last Observe call. Returns CodeStaleHandle if the handle table has since
// been rebuilt by a navigation without the caller re-observing.
func (e *Executor) resolve(h model.ElementHandle) (string, error) {
	selector, ok := e.handles[h]
	if !ok {
		return "", model.NewError(model.CodeStaleHandle, fmt.Sprintf("handle %q is not present in the last observation", h), nil)
	}
	return selector, nil
}

// Execute implements toolrouter.ToolExecutor, mapping each DefaultToolSchemas
// tool name (internal/toolrouter/tools.go) to a Playwright Page action.
func (e *Executor) Execute(ctx context.Context, call model.ToolCall) (model.ToolResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := model.ToolResult{RequestID: call.RequestID}

	switch call.Tool {
	case "browser.navigate":
		return e.navigate(call, result)
	case "browser.click":
		return e.click(call, result)
	case "browser.type":
		return e.typeText(call, result)
	case "browser.extract":
		return e.extract(call, result)
	case "browser.scroll":
		return e.scroll(call, result)
	case "browser.observe":
		obs, err := e.observeLocked(ctx)
		if err != nil {
			return failUnavailable(result, err)
		}
		result.Success = true
		result.Result = map[string]any{"document_id": obs.DocumentID}
		return result, nil
	default:
		result.Success = false
		result.ErrorCode = model.CodeToolNotPermitted
		result.ErrorMsg = fmt.Sprintf("localbrowser: no handler registered for tool %q", call.Tool)
		return result, nil
	}
}

func (e *Executor) navigate(call model.ToolCall, result model.ToolResult) (model.ToolResult, error) {
	url, _ := call.Args["url"].(string)
	if url == "" {
		return failValidation(result, "url is required for browser.navigate")
	}
	if _, err := e.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(e.cfg.Timeout.Milliseconds())),
	}); err != nil {
		return failUnavailable(result, err)
	}
	e.navGen++
	e.handles = make(map[model.ElementHandle]string)
	result.Success = true
	result.Result = map[string]any{"url": e.page.URL()}
	return result, nil
}

func (e *Executor) click(call model.ToolCall, result model.ToolResult) (model.ToolResult, error) {
	handle := model.ElementHandle(stringArg(call.Args, "handle"))
	if handle == "" {
		return failValidation(result, "handle is required for browser.click")
	}
	selector, err := e.resolve(handle)
	if err != nil {
		return failWithCode(result, err)
	}
	if err := e.page.Click(selector, playwright.PageClickOptions{
		Timeout: playwright.Float(float64(e.cfg.Timeout.Milliseconds())),
	}); err != nil {
		return failUnavailable(result, err)
	}
	result.Success = true
	return result, nil
}

func (e *Executor) typeText(call model.ToolCall, result model.ToolResult) (model.ToolResult, error) {
	handle := model.ElementHandle(stringArg(call.Args, "handle"))
	text := stringArg(call.Args, "text")
	if handle == "" {
		return failValidation(result, "handle is required for browser.type")
	}
	selector, err := e.resolve(handle)
	if err != nil {
		return failWithCode(result, err)
	}
	if err := e.page.Fill(selector, text); err != nil {
		return failUnavailable(result, err)
	}
	result.Success = true
	return result, nil
}

func (e *Executor) extract(call model.ToolCall, result model.ToolResult) (model.ToolResult, error) {
	selector := "body"
	if handle := model.ElementHandle(stringArg(call.Args, "handle")); handle != "" {
		resolved, err := e.resolve(handle)
		if err != nil {
			return failWithCode(result, err)
		}
		selector = resolved
	}
	text, err := e.page.TextContent(selector)
	if err != nil {
		return failUnavailable(result, err)
	}
	result.Success = true
	result.Result = map[string]any{"text": text}
	return result, nil
}

func (e *Executor) scroll(call model.ToolCall, result model.ToolResult) (model.ToolResult, error) {
	selector := "body"
	if handle := model.ElementHandle(stringArg(call.Args, "handle")); handle != "" {
		resolved, err := e.resolve(handle)
		if err != nil {
			return failWithCode(result, err)
		}
		selector = resolved
	}
	script := fmt.Sprintf("document.querySelector(%q).scrollIntoView({block: 'center'})", selector)
	if _, err := e.page.Evaluate(script); err != nil {
		return failUnavailable(result, err)
	}
	result.Success = true
	return result, nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func failValidation(result model.ToolResult, msg string) (model.ToolResult, error) {
	result.Success = false
	result.ErrorCode = model.CodeValidation
	result.ErrorMsg = msg
	return result, nil
}

func failUnavailable(result model.ToolResult, err error) (model.ToolResult, error) {
	result.Success = false
	result.ErrorCode = model.CodeUnavailable
	result.ErrorMsg = err.Error()
	return result, nil
}

func failWithCode(result model.ToolResult, err error) (model.ToolResult, error) {
	result.Success = false
	result.ErrorCode = model.CodeOf(err)
	result.ErrorMsg = err.Error()
	return result, nil
}
