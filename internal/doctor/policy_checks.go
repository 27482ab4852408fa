package doctor

import (
	"fmt"

	"github.com/haasonsaas/sidecar/internal/config"
	"github.com/haasonsaas/sidecar/internal/policygate"
)

// CheckPolicyConfig validates the process config's policy-adjacent fields
// against the loaded decision matrix and returns human-readable warnings,
// following the teacher's CheckChannelPolicies shape (internal/doctor/
// policy_checks.go): a pure function from config to warning strings, no
// side effects, safe to run from `sidecar doctor` before serving traffic.
func CheckPolicyConfig(cfg *config.Config, matrix *policygate.Matrix) []string {
	if cfg == nil {
		return nil
	}
	var warnings []string

	if matrix != nil && cfg.Policy.MatrixVersion != "" && matrix.Version != cfg.Policy.MatrixVersion {
		warnings = append(warnings, fmt.Sprintf(
			"policy.matrix_version is %q but the loaded matrix reports version %q",
			cfg.Policy.MatrixVersion, matrix.Version))
	}
	if matrix != nil && len(matrix.Entries) == 0 {
		warnings = append(warnings, "loaded policy matrix has no entries; every decision will fall back to ask(ClassifierUncertain)")
	}

	if cfg.Token.TTLMillis == 0 {
		warnings = append(warnings, "token.ttl_ms is 0; capability tokens expire immediately and every step will re-mint")
	}
	if cfg.Token.TTLMillis > 5*60*1000 {
		warnings = append(warnings, "token.ttl_ms exceeds 5 minutes; a stale handle window this wide weakens navigation-generation binding")
	}

	if cfg.Compaction.SignCheckpoints && len(cfg.Compaction.SigningKey) < 16 {
		warnings = append(warnings, "compaction.signing_key is shorter than 16 bytes; checkpoint signatures are easy to forge")
	}
	if cfg.Compaction.CheckpointEveryEvents > 500 {
		warnings = append(warnings, "compaction.checkpoint_every_events is very high; context packs may fall back to raw history for long runs")
	}

	if cfg.Cloud.Enabled {
		warnings = append(warnings, "cloud.enabled is true; confirm the context pack's egress redaction pass is exercised before shipping")
	}

	switch cfg.Mode {
	case "autopilot":
		if matrix != nil && matrix.Version == policygate.DefaultMatrixVersion {
			warnings = append(warnings, "mode is autopilot but the built-in default matrix is active; supply a reviewed policy.matrix_path before enabling autopilot in production")
		}
	}

	return warnings
}
