package doctor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/sidecar/internal/config"
)

func TestRepairPolicyMatrixNoPathConfigured(t *testing.T) {
	cfg := config.Default()
	path, created, err := RepairPolicyMatrix(cfg)
	if err != nil {
		t.Fatalf("RepairPolicyMatrix() error = %v", err)
	}
	if created || path != "" {
		t.Fatalf("expected no-op when matrix_path is unset, got path=%q created=%v", path, created)
	}
}

func TestRepairPolicyMatrixCreatesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Policy.MatrixPath = filepath.Join(dir, "nested", "matrix.yaml")

	path, created, err := RepairPolicyMatrix(cfg)
	if err != nil {
		t.Fatalf("RepairPolicyMatrix() error = %v", err)
	}
	if !created {
		t.Fatal("expected the matrix file to be created")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected matrix file at %s: %v", path, err)
	}
}

func TestRepairPolicyMatrixSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matrix.yaml")
	if err := os.WriteFile(path, []byte("version: custom\n"), 0o644); err != nil {
		t.Fatalf("write matrix: %v", err)
	}

	cfg := config.Default()
	cfg.Policy.MatrixPath = path

	_, created, err := RepairPolicyMatrix(cfg)
	if err != nil {
		t.Fatalf("RepairPolicyMatrix() error = %v", err)
	}
	if created {
		t.Fatal("expected existing matrix file to be left alone")
	}
	content, _ := os.ReadFile(path)
	if string(content) != "version: custom\n" {
		t.Fatal("existing matrix file was overwritten")
	}
}

func TestRepairEventStoreDirCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.EventStore.DSN = "file:" + filepath.Join(dir, "nested", "sidecar.db")

	dir2, created, err := RepairEventStoreDir(cfg)
	if err != nil {
		t.Fatalf("RepairEventStoreDir() error = %v", err)
	}
	if !created {
		t.Fatal("expected the directory to be created")
	}
	if _, err := os.Stat(dir2); err != nil {
		t.Fatalf("expected directory at %s: %v", dir2, err)
	}
}

func TestRepairEventStoreDirInMemorySkipped(t *testing.T) {
	cfg := config.Default()
	cfg.EventStore.DSN = ":memory:"

	dir, created, err := RepairEventStoreDir(cfg)
	if err != nil {
		t.Fatalf("RepairEventStoreDir() error = %v", err)
	}
	if created || dir != "" {
		t.Fatalf("expected no-op for in-memory DSN, got dir=%q created=%v", dir, created)
	}
}
