package policygate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/sidecar/pkg/model"
)

func TestDefaultMatrixHasVersion(t *testing.T) {
	m := DefaultMatrix()
	if m.Version == "" {
		t.Fatal("expected a non-empty default matrix version")
	}
}

func TestMatrixLookupMiss(t *testing.T) {
	m := DefaultMatrix()
	if _, ok := m.Lookup("nonexistent", model.ModeAssist, model.OriginClassTrusted); ok {
		t.Fatal("expected a lookup miss for an unknown category")
	}
}

func TestLoadMatrixFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.yaml")
	contents := `
version: "2026.1"
entries:
  - category: read
    mode: read_only
    site_risk: unclassified
    decision: allow
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadMatrix(path)
	if err != nil {
		t.Fatalf("LoadMatrix returned error: %v", err)
	}
	if m.Version != "2026.1" {
		t.Fatalf("expected version 2026.1, got %s", m.Version)
	}
	entry, ok := m.Lookup(CategoryRead, model.ModeReadOnly, model.OriginClassUnclassified)
	if !ok || entry.Decision != model.DecisionAllow {
		t.Fatalf("expected allow entry, got %+v (ok=%v)", entry, ok)
	}
}

func TestLoadMatrixMissingVersionFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.yaml")
	if err := os.WriteFile(path, []byte("entries: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMatrix(path); err == nil {
		t.Fatal("expected an error for a matrix file missing a version")
	}
}

func TestLoadMatrixMissingFile(t *testing.T) {
	if _, err := LoadMatrix(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing matrix file")
	}
}
