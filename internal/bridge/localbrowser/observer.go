package localbrowser

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// interactiveSweepScript tags every interactive node with a data attribute
// the Go side can select on later, and returns just enough metadata to
// build InteractiveElements/FormFields without ever round-tripping raw
// markup or typed values back across the Playwright bridge.
const interactiveSweepScript = `() => {
	const nodes = document.querySelectorAll(
		'a[href], button, input, textarea, select, [role], [onclick], [tabindex]'
	);
	const out = [];
	nodes.forEach((el, i) => {
		el.setAttribute('data-sidecar-handle', String(i));
		const rect = el.getBoundingClientRect();
		out.push({
			index: i,
			tag: el.tagName.toLowerCase(),
			type: (el.getAttribute('type') || '').toLowerCase(),
			role: el.getAttribute('role') || '',
			name: (el.getAttribute('aria-label') || el.innerText || el.getAttribute('placeholder') || '').trim().slice(0, 120),
			required: el.hasAttribute('required'),
			autocomplete: el.getAttribute('autocomplete') || '',
			x: rect.x, y: rect.y, width: rect.width, height: rect.height,
		});
	});
	return out;
}`

type sweptElement struct {
	Index        int     `json:"index"`
	Tag          string  `json:"tag"`
	Type         string  `json:"type"`
	Role         string  `json:"role"`
	Name         string  `json:"name"`
	Required     bool    `json:"required"`
	Autocomplete string  `json:"autocomplete"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
}

// Observe implements orchestrator.Observer. It re-sweeps the live page for
// interactive elements, mints a fresh handle table (the local stand-in for
// the extension bridge's real extraction layer), and returns a redacted
// Observation. binding's tab/document identity is advisory here since this
// Executor only ever drives one page; a real bridge would use it to select
// among many.
func (e *Executor) Observe(ctx context.Context, binding model.Binding) (*model.Observation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observeLocked(ctx)
}

func (e *Executor) observeLocked(ctx context.Context) (*model.Observation, error) {
	raw, err := e.page.Evaluate(interactiveSweepScript)
	if err != nil {
		return nil, fmt.Errorf("localbrowser: sweep interactive elements: %w", err)
	}

	elements, err := decodeSweptElements(raw)
	if err != nil {
		return nil, fmt.Errorf("localbrowser: decode sweep result: %w", err)
	}

	handles := make(map[model.ElementHandle]string, len(elements))
	var interactive []model.InteractiveElement
	var forms []model.FormField

	for _, el := range elements {
		handle := model.ElementHandle(fmt.Sprintf("el-%d", el.Index))
		selector := fmt.Sprintf(`[data-sidecar-handle="%d"]`, el.Index)
		handles[handle] = selector

		box := model.BoundingBox{X: el.X, Y: el.Y, Width: el.Width, Height: el.Height}
		if el.Tag == "input" || el.Tag == "textarea" || el.Tag == "select" {
			forms = append(forms, model.FormField{
				Handle:       handle,
				Type:         el.Type,
				LabelHint:    el.Name,
				Required:     el.Required,
				Autocomplete: el.Autocomplete,
				FieldClass:   classifyField(el),
			})
			continue
		}
		interactive = append(interactive, model.InteractiveElement{
			Handle:      handle,
			Role:        coalesce(el.Role, el.Tag),
			Name:        el.Name,
			BoundingBox: box,
		})
	}

	e.handles = handles

	visibleText, err := e.page.TextContent("body")
	if err != nil {
		visibleText = ""
	}

	return &model.Observation{
		DocumentID:       fmt.Sprintf("doc-%d", e.navGen),
		NavigationGen:    e.navGen,
		URL:              e.page.URL(),
		Title:            titleOrEmpty(e),
		VisibleText:      []string{visibleText},
		InteractiveElems: interactive,
		Forms:            forms,
		ObservedAt:       observeTimestamp(ctx),
	}, nil
}

// classifyField flags password inputs and common autocomplete hints so the
// Policy Gate's credential-field invariant has something to key off of;
// anything else defaults to generic.
func classifyField(el sweptElement) model.FieldClass {
	switch {
	case el.Type == "password":
		return model.FieldClassCredential
	case el.Autocomplete == "cc-number" || el.Autocomplete == "cc-csc":
		return model.FieldClassPayment
	case el.Autocomplete == "email" || el.Autocomplete == "tel":
		return model.FieldClassPII
	default:
		return model.FieldClassGeneric
	}
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func titleOrEmpty(e *Executor) string {
	title, err := e.page.Title()
	if err != nil {
		return ""
	}
	return title
}

// observeTimestamp isolates the one non-deterministic call in this path so
// it is easy to stub in tests without reaching into package internals.
var observeTimestamp = func(ctx context.Context) time.Time {
	return time.Now().UTC()
}

func decodeSweptElements(raw interface{}) ([]sweptElement, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected sweep result shape %T", raw)
	}
	out := make([]sweptElement, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, sweptElement{
			Index:        intField(m, "index"),
			Tag:          stringField(m, "tag"),
			Type:         stringField(m, "type"),
			Role:         stringField(m, "role"),
			Name:         stringField(m, "name"),
			Required:     boolField(m, "required"),
			Autocomplete: stringField(m, "autocomplete"),
			X:            floatField(m, "x"),
			Y:            floatField(m, "y"),
			Width:        floatField(m, "width"),
			Height:       floatField(m, "height"),
		})
	}
	return out, nil
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func boolField(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func floatField(m map[string]interface{}, key string) float64 {
	v, _ := m[key].(float64)
	return v
}

func intField(m map[string]interface{}, key string) int {
	return int(floatField(m, key))
}
