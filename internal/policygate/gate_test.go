package policygate

import (
	"testing"
	"time"

	"github.com/haasonsaas/sidecar/pkg/model"
)

func testCategorizer(tool string) ToolCategory {
	switch tool {
	case "browser.read":
		return CategoryRead
	case "browser.navigate":
		return CategoryNavigate
	case "browser.type":
		return CategoryFormInput
	case "browser.submit":
		return CategoryFormSubmit
	default:
		return CategoryOther
	}
}

func newTestGate() *Gate {
	return NewGate(Config{
		Matrix:              DefaultMatrix(),
		Categorize:          testCategorizer,
		PaymentTools:        []string{"browser.submit_payment"},
		IdentityChangeTools: []string{"browser.change_password"},
	})
}

func TestDecideUnknownTool(t *testing.T) {
	g := newTestGate()
	d := g.Decide(model.PolicyContext{Mode: model.ModeAssist}, model.ToolCall{})
	if d.Decision != model.DecisionDeny || d.ReasonCode != model.ReasonUnknownTool {
		t.Fatalf("expected deny/UnknownTool, got %v/%v", d.Decision, d.ReasonCode)
	}
}

func TestDecideHardInvariantPaymentTool(t *testing.T) {
	g := newTestGate()
	d := g.Decide(model.PolicyContext{Mode: model.ModeAutopilot}, model.ToolCall{Tool: "browser.submit_payment"})
	if d.Decision != model.DecisionDeny || d.ReasonCode != model.ReasonDenyPaymentTool {
		t.Fatalf("expected deny/PaymentTool, got %v/%v", d.Decision, d.ReasonCode)
	}
}

func TestDecideHardInvariantIdentityChange(t *testing.T) {
	g := newTestGate()
	d := g.Decide(model.PolicyContext{Mode: model.ModeAutopilot}, model.ToolCall{Tool: "browser.change_password"})
	if d.Decision != model.DecisionDeny || d.ReasonCode != model.ReasonDenyIdentityChange {
		t.Fatalf("expected deny/IdentityChange, got %v/%v", d.Decision, d.ReasonCode)
	}
}

func TestDecideCredentialFieldDeniedWithoutOverride(t *testing.T) {
	g := newTestGate()
	call := model.ToolCall{Tool: "browser.type", FieldClass: model.FieldClassCredential, Scope: model.ScopeBinding{Origin: "https://example.com"}}
	d := g.Decide(model.PolicyContext{Mode: model.ModeAutopilot}, call)
	if d.Decision != model.DecisionDeny || d.ReasonCode != model.ReasonDenyCredentialField {
		t.Fatalf("expected deny/CredentialField, got %v/%v", d.Decision, d.ReasonCode)
	}
}

func TestDecideCredentialFieldAllowedWithUnexpiredOverride(t *testing.T) {
	overrides := NewOverrideStore()
	overrides.AllowField("https://example.com", "browser.type", time.Now().Add(time.Hour))
	g := NewGate(Config{Matrix: DefaultMatrix(), Categorize: testCategorizer, Overrides: overrides})

	call := model.ToolCall{Tool: "browser.type", FieldClass: model.FieldClassCredential, Scope: model.ScopeBinding{Origin: "https://example.com"}}
	d := g.Decide(model.PolicyContext{Mode: model.ModeAssist, OriginClassification: model.OriginClassUnclassified}, call)
	if d.Decision == model.DecisionDeny && d.ReasonCode == model.ReasonDenyCredentialField {
		t.Fatalf("expected the credential hard invariant to be bypassed by the field override, got %v/%v", d.Decision, d.ReasonCode)
	}
}

func TestDecideCredentialFieldOverrideExpires(t *testing.T) {
	overrides := NewOverrideStore()
	overrides.AllowField("https://example.com", "browser.type", time.Now().Add(-time.Hour))
	g := NewGate(Config{Matrix: DefaultMatrix(), Categorize: testCategorizer, Overrides: overrides})

	call := model.ToolCall{Tool: "browser.type", FieldClass: model.FieldClassCredential, Scope: model.ScopeBinding{Origin: "https://example.com"}}
	d := g.Decide(model.PolicyContext{Mode: model.ModeAssist}, call)
	if d.Decision != model.DecisionDeny || d.ReasonCode != model.ReasonDenyCredentialField {
		t.Fatalf("expected an expired override to leave the hard invariant in force, got %v/%v", d.Decision, d.ReasonCode)
	}
}

func TestDecideCrossOriginCarryBlockedWithoutGrant(t *testing.T) {
	g := newTestGate()
	call := model.ToolCall{
		Tool:       "browser.submit",
		FieldClass: model.FieldClassPII,
		Scope:      model.ScopeBinding{Origin: "https://sensitive.example", DocumentID: "doc-1", NavigationGen: 3},
	}
	d := g.Decide(model.PolicyContext{Mode: model.ModeAutopilot, OriginClassification: model.OriginClassSensitive}, call)
	if d.Decision != model.DecisionDeny || d.ReasonCode != model.ReasonDenyCrossOriginCarry {
		t.Fatalf("expected deny/CrossOriginCarry, got %v/%v", d.Decision, d.ReasonCode)
	}
}

func TestDecideCrossOriginCarryAllowedWithMatchingGrant(t *testing.T) {
	g := newTestGate()
	call := model.ToolCall{
		Tool:       "browser.submit",
		FieldClass: model.FieldClassPII,
		Scope:      model.ScopeBinding{Origin: "https://sensitive.example", DocumentID: "doc-1", NavigationGen: 3},
	}
	pctx := model.PolicyContext{
		Mode:                 model.ModeAutopilot,
		OriginClassification: model.OriginClassSensitive,
		CrossSiteGrants: []model.CrossSiteGrant{
			{FromOrigin: "https://sensitive.example", DocumentID: "doc-1", NavigationGen: 3},
		},
	}
	d := g.Decide(pctx, call)
	if d.ReasonCode == model.ReasonDenyCrossOriginCarry {
		t.Fatalf("expected the matching grant to clear the cross-origin-carry invariant, got %v", d.ReasonCode)
	}
}

func TestDecideMatrixAllowReadOnlyEverywhere(t *testing.T) {
	g := newTestGate()
	for _, risk := range []model.OriginClass{model.OriginClassUnclassified, model.OriginClassTrusted, model.OriginClassSensitive} {
		call := model.ToolCall{Tool: "browser.read", Scope: model.ScopeBinding{Origin: "https://example.com"}}
		d := g.Decide(model.PolicyContext{Mode: model.ModeReadOnly, OriginClassification: risk}, call)
		if d.Decision != model.DecisionAllow || d.ReasonCode != model.ReasonMatrixAllow {
			t.Fatalf("risk=%v: expected allow/MatrixAllow, got %v/%v", risk, d.Decision, d.ReasonCode)
		}
	}
}

func TestDecideMatrixDeniesMutationInReadOnlyMode(t *testing.T) {
	g := newTestGate()
	call := model.ToolCall{Tool: "browser.navigate", Scope: model.ScopeBinding{Origin: "https://example.com"}}
	d := g.Decide(model.PolicyContext{Mode: model.ModeReadOnly, OriginClassification: model.OriginClassUnclassified}, call)
	if d.Decision != model.DecisionDeny || d.ReasonCode != model.ReasonMatrixDeny {
		t.Fatalf("expected deny/MatrixDeny, got %v/%v", d.Decision, d.ReasonCode)
	}
}

func TestDecideMatrixAsksOnSensitiveSiteInAssistMode(t *testing.T) {
	g := newTestGate()
	call := model.ToolCall{Tool: "browser.navigate", Scope: model.ScopeBinding{Origin: "https://example.com"}}
	d := g.Decide(model.PolicyContext{Mode: model.ModeAssist, OriginClassification: model.OriginClassSensitive}, call)
	if d.Decision != model.DecisionAsk || !d.RequiresGesture {
		t.Fatalf("expected ask with gesture required, got %v requires_gesture=%v", d.Decision, d.RequiresGesture)
	}
}

func TestDecideMissingMatrixEntryAsksUncertain(t *testing.T) {
	g := NewGate(Config{Matrix: &Matrix{Version: "empty"}, Categorize: testCategorizer})
	call := model.ToolCall{Tool: "browser.read", Scope: model.ScopeBinding{Origin: "https://example.com"}}
	d := g.Decide(model.PolicyContext{Mode: model.ModeAssist}, call)
	if d.Decision != model.DecisionAsk || d.ReasonCode != model.ReasonClassifierUncertain {
		t.Fatalf("expected ask/ClassifierUncertain on matrix miss, got %v/%v", d.Decision, d.ReasonCode)
	}
}

func TestDecideIsReproducible(t *testing.T) {
	g := newTestGate()
	pctx := model.PolicyContext{Mode: model.ModeAssist, OriginClassification: model.OriginClassUnclassified}
	call := model.ToolCall{Tool: "browser.navigate", Scope: model.ScopeBinding{Origin: "https://example.com"}}

	first := g.Decide(pctx, call)
	second := g.Decide(pctx, call)
	if first != second {
		t.Fatalf("decide() must be reproducible for identical inputs, got %+v then %+v", first, second)
	}
}

func TestSiteOverrideAppliesAfterMatrix(t *testing.T) {
	overrides := NewOverrideStore()
	overrides.SetSiteOverride("https://example.com", model.DecisionDeny)
	g := NewGate(Config{Matrix: DefaultMatrix(), Categorize: testCategorizer, Overrides: overrides})

	call := model.ToolCall{Tool: "browser.read", Scope: model.ScopeBinding{Origin: "https://example.com"}}
	d := g.Decide(model.PolicyContext{Mode: model.ModeReadOnly, OriginClassification: model.OriginClassUnclassified}, call)
	if d.Decision != model.DecisionDeny || d.ReasonCode != model.ReasonUserOverrideDeny {
		t.Fatalf("expected the site override to narrow the matrix allow, got %v/%v", d.Decision, d.ReasonCode)
	}
}

func TestClassifyFieldCredential(t *testing.T) {
	class, reason := ClassifyField(model.FormField{Type: "password"}, "")
	if class != model.FieldClassCredential {
		t.Fatalf("expected credential, got %v (reason=%s)", class, reason)
	}
}

func TestClassifyFieldUncertainOnNoMetadata(t *testing.T) {
	class, reason := ClassifyField(model.FormField{}, "")
	if reason != model.ReasonClassifierUncertain {
		t.Fatalf("expected ClassifierUncertain reason for empty metadata, got class=%v reason=%s", class, reason)
	}
}

func TestClassifyFieldPayment(t *testing.T) {
	class, _ := ClassifyField(model.FormField{Autocomplete: "cc-number"}, "")
	if class != model.FieldClassPayment {
		t.Fatalf("expected payment, got %v", class)
	}
}

func TestVerifyMatchesDecide(t *testing.T) {
	g := newTestGate()
	pctx := model.PolicyContext{Mode: model.ModeReadOnly}
	call := model.ToolCall{Tool: "browser.read", Scope: model.ScopeBinding{Origin: "https://example.com"}}
	want := g.Decide(pctx, call)

	if !Verify(nil, g, pctx, call, want) {
		t.Fatal("expected Verify to confirm decide() reproduces the recorded decision")
	}
}
