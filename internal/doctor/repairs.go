package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/sidecar/internal/config"
	"github.com/haasonsaas/sidecar/internal/policygate"
)

// RepairPolicyMatrix ensures cfg.Policy.MatrixPath exists, writing the
// built-in default matrix if it is missing. This is the Agent Core
// equivalent of the teacher's RepairWorkspace (internal/doctor/repairs.go):
// a bootstrap action safe to run unconditionally, reported back as
// created/skipped so a CLI can print what it did.
func RepairPolicyMatrix(cfg *config.Config) (path string, created bool, err error) {
	if cfg == nil || strings.TrimSpace(cfg.Policy.MatrixPath) == "" {
		return "", false, nil
	}
	path = cfg.Policy.MatrixPath

	if _, statErr := os.Stat(path); statErr == nil {
		return path, false, nil
	} else if !os.IsNotExist(statErr) {
		return "", false, statErr
	}

	matrix := policygate.DefaultMatrix()
	data, err := yaml.Marshal(matrix)
	if err != nil {
		return "", false, fmt.Errorf("doctor: marshal default matrix: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("doctor: create matrix directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", false, fmt.Errorf("doctor: write default matrix: %w", err)
	}
	return path, true, nil
}

// RepairEventStoreDir ensures the directory holding the sqlite event store
// file exists, so `sidecar serve` never fails to start on a fresh profile
// for want of a missing parent directory.
func RepairEventStoreDir(cfg *config.Config) (dir string, created bool, err error) {
	if cfg == nil {
		return "", false, nil
	}
	path := sqliteFilePath(cfg.EventStore.DSN)
	if path == "" {
		return "", false, nil
	}
	dir = filepath.Dir(path)
	if _, statErr := os.Stat(dir); statErr == nil {
		return dir, false, nil
	} else if !os.IsNotExist(statErr) {
		return "", false, statErr
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("doctor: create event store directory: %w", err)
	}
	return dir, true, nil
}
