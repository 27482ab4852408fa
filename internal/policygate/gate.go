package policygate

import (
	"context"
	"strings"
	"time"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// Categorizer maps a tool name to the ToolCategory the matrix is keyed on.
// The Tool Router's schema registry supplies the canonical implementation;
// tests may supply a static map.
type Categorizer func(tool string) ToolCategory

// Gate evaluates decide() per spec §4.3: hard invariants first, then the
// data-driven matrix, then durable user overrides — never the reverse,
// so an override can only narrow or widen within what the invariants permit.
type Gate struct {
	matrix      *Matrix
	categorize  Categorizer
	overrides   *OverrideStore
	paymentTools map[string]bool
	identityChangeTools map[string]bool
}

// Config is the set of tool classifications the Gate needs beyond the
// matrix itself: which tool names are unconditionally payment or
// identity-change tools per the hard invariants.
type Config struct {
	Matrix              *Matrix
	Categorize          Categorizer
	Overrides           *OverrideStore
	PaymentTools        []string
	IdentityChangeTools []string
}

// NewGate builds a Gate from Config, falling back to DefaultMatrix and an
// empty override store if not supplied.
func NewGate(cfg Config) *Gate {
	matrix := cfg.Matrix
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	overrides := cfg.Overrides
	if overrides == nil {
		overrides = NewOverrideStore()
	}
	g := &Gate{
		matrix:              matrix,
		categorize:          cfg.Categorize,
		overrides:           overrides,
		paymentTools:        toSet(cfg.PaymentTools),
		identityChangeTools: toSet(cfg.IdentityChangeTools),
	}
	return g
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[strings.ToLower(i)] = true
	}
	return out
}

// Decide is the pure fold described in spec §4.3. It never mutates state
// and always returns the same decision for the same (ctx, call) pair.
func (g *Gate) Decide(pctx model.PolicyContext, call model.ToolCall) model.PolicyDecision {
	decision := model.PolicyDecision{
		Scope:         call.Scope,
		MatrixVersion: g.matrix.Version,
	}

	if call.Tool == "" {
		decision.Decision = model.DecisionDeny
		decision.ReasonCode = model.ReasonUnknownTool
		return decision
	}

	// 1. Hard invariants. These are coded rules, never overridable upward.
	tool := strings.ToLower(call.Tool)
	if g.paymentTools[tool] {
		decision.Decision = model.DecisionDeny
		decision.ReasonCode = model.ReasonDenyPaymentTool
		return decision
	}
	if g.identityChangeTools[tool] {
		decision.Decision = model.DecisionDeny
		decision.ReasonCode = model.ReasonDenyIdentityChange
		return decision
	}
	if call.FieldClass == model.FieldClassCredential {
		if !g.overrides.HasUnexpiredFieldOverride(call.Scope, tool) {
			decision.Decision = model.DecisionDeny
			decision.ReasonCode = model.ReasonDenyCredentialField
			return decision
		}
	}
	if crossOriginCarryBlocked(pctx, call) {
		decision.Decision = model.DecisionDeny
		decision.ReasonCode = model.ReasonDenyCrossOriginCarry
		return decision
	}

	// 2. Data-driven matrix.
	var category ToolCategory
	if g.categorize != nil {
		category = g.categorize(call.Tool)
	} else {
		category = CategoryOther
	}
	entry, ok := g.matrix.Lookup(category, pctx.Mode, pctx.OriginClassification)
	if !ok {
		decision.Decision = model.DecisionAsk
		decision.ReasonCode = model.ReasonClassifierUncertain
		decision.RequiresGesture = true
		return decision
	}
	decision.Decision = entry.Decision
	decision.RequiresGesture = entry.RequiresGesture
	switch entry.Decision {
	case model.DecisionAllow:
		decision.ReasonCode = model.ReasonMatrixAllow
	case model.DecisionAsk:
		decision.ReasonCode = model.ReasonMatrixAsk
	default:
		decision.ReasonCode = model.ReasonMatrixDeny
	}

	// 3. Durable user overrides. Hard-invariant denials above already
	// returned before reaching this point, so an override here can only
	// move a matrix-driven decision; it can never cross payment, identity
	// change, credential-field, or cross-origin-carry rules.
	if override, found := g.overrides.SiteOverride(call.Scope.Origin); found {
		decision.Decision = override
		if override == model.DecisionAllow {
			decision.ReasonCode = model.ReasonUserOverrideAllow
		} else {
			decision.ReasonCode = model.ReasonUserOverrideDeny
		}
	}

	return decision
}

// crossOriginCarryBlocked reports whether call would carry context across
// origins from a sensitive origin without a matching user.cross_site_intent
// grant recorded for this exact document/navigation generation.
func crossOriginCarryBlocked(pctx model.PolicyContext, call model.ToolCall) bool {
	if pctx.OriginClassification != model.OriginClassSensitive {
		return false
	}
	if call.Scope.Origin == "" {
		return false
	}
	for _, grant := range pctx.CrossSiteGrants {
		if grant.FromOrigin == call.Scope.Origin &&
			grant.DocumentID == call.Scope.DocumentID &&
			grant.NavigationGen == call.Scope.NavigationGen {
			return false
		}
	}
	// A sensitive origin with no recorded intent for this scope only
	// blocks tools that actually carry data out (form submission,
	// clipboard, navigation to a different origin); read-only calls never
	// carry anything and are left to the matrix.
	return call.FieldClass != model.FieldClassGeneric && call.FieldClass != ""
}

// ClassifyField folds form-field metadata and an optional typed-text hint
// into a field classification plus reason code, per spec §4.3's
// classify_field. Insufficient metadata yields ClassifierUncertain rather
// than a silent generic classification, since a silent allow on a
// misclassified credential field is exactly the failure this function
// exists to prevent.
func ClassifyField(field model.FormField, typedTextHint string) (model.FieldClass, string) {
	inputType := strings.ToLower(field.Type)
	label := strings.ToLower(field.LabelHint)
	autocomplete := strings.ToLower(field.Autocomplete)

	switch {
	case inputType == "password" || strings.Contains(autocomplete, "password"):
		return model.FieldClassCredential, ""
	case strings.Contains(label, "password") || strings.Contains(label, "passwd"):
		return model.FieldClassCredential, ""
	case strings.Contains(autocomplete, "cc-") || strings.Contains(label, "card") || strings.Contains(label, "cvv"):
		return model.FieldClassPayment, ""
	case strings.Contains(autocomplete, "one-time-code") || strings.Contains(label, "otp") || strings.Contains(label, "2fa"):
		return model.FieldClassSSO, ""
	case strings.Contains(label, "ssn") || strings.Contains(label, "dob"):
		return model.FieldClassPII, ""
	case inputType == "" && label == "" && autocomplete == "" && typedTextHint == "":
		return model.FieldClassGeneric, model.ReasonClassifierUncertain
	default:
		return model.FieldClassGeneric, ""
	}
}

// ClassifyOrigin folds an observation's form metadata into an OriginClass
// per spec §4.3's origin classification rule: "user label wins, then
// heuristic: password fields, payment affordances; then optional signed
// curated list." userLabels holds durable per-origin labels set by the
// user (e.g. via a site override event); curatedSensitive is an optional
// signed list of origins known to be sensitive regardless of what this
// run has observed on the page so far.
func ClassifyOrigin(origin string, obs *model.Observation, userLabels map[string]model.OriginClass, curatedSensitive map[string]bool) model.OriginClass {
	if label, ok := userLabels[origin]; ok {
		return label
	}
	if obs != nil {
		for _, f := range obs.Forms {
			if f.FieldClass == model.FieldClassCredential || f.FieldClass == model.FieldClassPayment {
				return model.OriginClassSensitive
			}
		}
	}
	if curatedSensitive[origin] {
		return model.OriginClassSensitive
	}
	return model.OriginClassUnclassified
}

// OverrideStore holds durable per-site labels and per-field allowlist
// entries, the policy-gate analogue of the teacher's ApprovalChecker's
// allow/deny lists, but scoped to origins and fields rather than agents.
type OverrideStore struct {
	siteOverrides  map[string]model.Decision
	fieldOverrides map[string]time.Time // key: origin|tool, value: expiry
}

// NewOverrideStore returns an empty, in-memory override store. Overrides
// are themselves durable events (user.cross_site_intent and related), so
// the Orchestrator replays them into this store on resume rather than
// this store persisting them itself.
func NewOverrideStore() *OverrideStore {
	return &OverrideStore{
		siteOverrides:  make(map[string]model.Decision),
		fieldOverrides: make(map[string]time.Time),
	}
}

// SetSiteOverride records a durable per-origin label narrowing or widening
// the matrix's default decision.
func (s *OverrideStore) SetSiteOverride(origin string, decision model.Decision) {
	s.siteOverrides[origin] = decision
}

// SiteOverride returns the recorded override for origin, if any.
func (s *OverrideStore) SiteOverride(origin string) (model.Decision, bool) {
	d, ok := s.siteOverrides[origin]
	return d, ok
}

// AllowField records a field-level allowlist entry for (origin, tool) that
// expires at expiresAt — the only way a credential-field hard invariant
// may be bypassed.
func (s *OverrideStore) AllowField(origin, tool string, expiresAt time.Time) {
	s.fieldOverrides[origin+"|"+strings.ToLower(tool)] = expiresAt
}

// HasUnexpiredFieldOverride reports whether call's origin/tool pair has a
// live field-level override.
func (s *OverrideStore) HasUnexpiredFieldOverride(scope model.ScopeBinding, tool string) bool {
	expiry, ok := s.fieldOverrides[scope.Origin+"|"+strings.ToLower(tool)]
	if !ok {
		return false
	}
	return time.Now().Before(expiry)
}

// Verify re-decides ctx/call and reports whether the result matches want,
// proving decide() is reproducible for the given inputs — used by the
// doctor CLI's policy self-check.
func Verify(ctx context.Context, g *Gate, pctx model.PolicyContext, call model.ToolCall, want model.PolicyDecision) bool {
	got := g.Decide(pctx, call)
	return got.Decision == want.Decision && got.ReasonCode == want.ReasonCode
}
