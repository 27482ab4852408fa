// Package policygate implements the deterministic allow/ask/deny decision
// function described in spec §4.3: a pure fold over hard invariants, a
// versioned data-driven matrix, and durable user overrides.
//
// The shape follows the teacher's internal/tools/policy Resolver: deny
// always wins, rules expand against a normalized tool name, and every
// decision carries a machine-readable reason string. Where the teacher
// resolves "is this tool allowed for this agent", this package resolves
// "is this one proposed call allowed for this origin, mode, and field
// classification right now".
package policygate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// MatrixEntry is one row of the data-driven decision table: for a given
// tool category, autonomy mode, and site-risk classification, what the
// gate should decide absent a hard invariant or an override.
type MatrixEntry struct {
	Category        ToolCategory    `yaml:"category"`
	Mode            model.Mode      `yaml:"mode"`
	SiteRisk        model.OriginClass `yaml:"site_risk"`
	Decision        model.Decision  `yaml:"decision"`
	RequiresGesture bool            `yaml:"requires_gesture"`
}

// Matrix is the full versioned decision table loaded at startup.
type Matrix struct {
	Version string        `yaml:"version"`
	Entries []MatrixEntry `yaml:"entries"`
}

// ToolCategory classifies a tool for matrix lookup. Unlike model.FieldClass
// (which describes the target of a call), this describes the call itself.
type ToolCategory string

const (
	CategoryRead          ToolCategory = "read"
	CategoryNavigate      ToolCategory = "navigate"
	CategoryFormInput     ToolCategory = "form_input"
	CategoryFormSubmit    ToolCategory = "form_submit"
	CategoryDownload      ToolCategory = "download"
	CategoryClipboard     ToolCategory = "clipboard"
	CategoryPayment       ToolCategory = "payment"
	CategoryIdentityChange ToolCategory = "identity_change"
	CategoryOther         ToolCategory = "other"
)

// DefaultMatrixVersion is used when no matrix file is configured, so the
// gate still has conservative defaults to fold over in tests and the
// CLI's dev-run mode.
const DefaultMatrixVersion = "dev-default-1"

// DefaultMatrix returns a conservative built-in table: read-only tools are
// allowed everywhere, mutating tools require a gesture in assist mode and
// are asked on sensitive sites, and autopilot never widens past ask on a
// sensitive site.
func DefaultMatrix() *Matrix {
	m := &Matrix{Version: DefaultMatrixVersion}
	for _, mode := range []model.Mode{model.ModeReadOnly, model.ModeAssist, model.ModeAutopilot} {
		m.Entries = append(m.Entries, MatrixEntry{
			Category: CategoryRead, Mode: mode, SiteRisk: model.OriginClassUnclassified,
			Decision: model.DecisionAllow,
		})
		m.Entries = append(m.Entries, MatrixEntry{
			Category: CategoryRead, Mode: mode, SiteRisk: model.OriginClassTrusted,
			Decision: model.DecisionAllow,
		})
		m.Entries = append(m.Entries, MatrixEntry{
			Category: CategoryRead, Mode: mode, SiteRisk: model.OriginClassSensitive,
			Decision: model.DecisionAllow,
		})
	}

	mutating := []ToolCategory{CategoryNavigate, CategoryFormInput, CategoryFormSubmit, CategoryDownload, CategoryClipboard}
	for _, cat := range mutating {
		m.Entries = append(m.Entries,
			MatrixEntry{Category: cat, Mode: model.ModeReadOnly, SiteRisk: model.OriginClassUnclassified, Decision: model.DecisionDeny},
			MatrixEntry{Category: cat, Mode: model.ModeReadOnly, SiteRisk: model.OriginClassTrusted, Decision: model.DecisionDeny},
			MatrixEntry{Category: cat, Mode: model.ModeReadOnly, SiteRisk: model.OriginClassSensitive, Decision: model.DecisionDeny},

			MatrixEntry{Category: cat, Mode: model.ModeAssist, SiteRisk: model.OriginClassUnclassified, Decision: model.DecisionAllow, RequiresGesture: true},
			MatrixEntry{Category: cat, Mode: model.ModeAssist, SiteRisk: model.OriginClassTrusted, Decision: model.DecisionAllow, RequiresGesture: true},
			MatrixEntry{Category: cat, Mode: model.ModeAssist, SiteRisk: model.OriginClassSensitive, Decision: model.DecisionAsk, RequiresGesture: true},

			MatrixEntry{Category: cat, Mode: model.ModeAutopilot, SiteRisk: model.OriginClassUnclassified, Decision: model.DecisionAllow},
			MatrixEntry{Category: cat, Mode: model.ModeAutopilot, SiteRisk: model.OriginClassTrusted, Decision: model.DecisionAllow},
			MatrixEntry{Category: cat, Mode: model.ModeAutopilot, SiteRisk: model.OriginClassSensitive, Decision: model.DecisionAsk},
		)
	}
	return m
}

// Lookup returns the matrix row for (category, mode, risk), or a zero
// entry with ok=false if the table has no entry — the caller must treat a miss as
// ReasonClassifierUncertain rather than a silent allow.
func (m *Matrix) Lookup(category ToolCategory, mode model.Mode, risk model.OriginClass) (MatrixEntry, bool) {
	for _, e := range m.Entries {
		if e.Category == category && e.Mode == mode && e.SiteRisk == risk {
			return e, true
		}
	}
	return MatrixEntry{}, false
}

// LoadMatrix reads a versioned decision matrix from a YAML file, the way
// internal/config.Load reads the process config.
func LoadMatrix(path string) (*Matrix, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policygate: read matrix: %w", err)
	}
	var m Matrix
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("policygate: parse matrix: %w", err)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("policygate: matrix %s missing version", path)
	}
	return &m, nil
}
