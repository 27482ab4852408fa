package doctor

import (
	"testing"

	"github.com/haasonsaas/sidecar/internal/config"
	"github.com/haasonsaas/sidecar/internal/policygate"
)

func TestCheckPolicyConfigFlagsMismatchedMatrixVersion(t *testing.T) {
	cfg := config.Default()
	cfg.Policy.MatrixVersion = "v2"
	matrix := &policygate.Matrix{Version: "v1"}

	warnings := CheckPolicyConfig(cfg, matrix)
	if len(warnings) == 0 {
		t.Fatal("expected a warning for mismatched matrix version")
	}
}

func TestCheckPolicyConfigFlagsZeroTTL(t *testing.T) {
	cfg := config.Default()
	cfg.Token.TTLMillis = 0

	warnings := CheckPolicyConfig(cfg, policygate.DefaultMatrix())
	found := false
	for _, w := range warnings {
		if w == "token.ttl_ms is 0; capability tokens expire immediately and every step will re-mint" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected zero-TTL warning, got %v", warnings)
	}
}

func TestCheckPolicyConfigFlagsWeakSigningKey(t *testing.T) {
	cfg := config.Default()
	cfg.Compaction.SignCheckpoints = true
	cfg.Compaction.SigningKey = "short"

	warnings := CheckPolicyConfig(cfg, policygate.DefaultMatrix())
	if len(warnings) == 0 {
		t.Fatal("expected a warning for a weak signing key")
	}
}

func TestCheckPolicyConfigAutopilotWithDefaultMatrix(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = "autopilot"

	warnings := CheckPolicyConfig(cfg, policygate.DefaultMatrix())
	found := false
	for _, w := range warnings {
		if w == "mode is autopilot but the built-in default matrix is active; supply a reviewed policy.matrix_path before enabling autopilot in production" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected autopilot-with-default-matrix warning, got %v", warnings)
	}
}

func TestCheckPolicyConfigNilConfig(t *testing.T) {
	if warnings := CheckPolicyConfig(nil, nil); warnings != nil {
		t.Fatalf("expected nil warnings for nil config, got %v", warnings)
	}
}
