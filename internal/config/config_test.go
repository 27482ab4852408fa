package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sidecar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: assist\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "assist", cfg.Mode)
	require.Equal(t, int64(30_000), cfg.Token.TTLMillis)
	require.Equal(t, 8_000, cfg.ContextPack.BudgetTokens)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sidecar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not_a_real_field: true\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Default()
	cfg.Mode = "god_mode"
	err := validateConfig(cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidateRequiresSigningKeyWhenSigningEnabled(t *testing.T) {
	cfg := Default()
	cfg.Compaction.SignCheckpoints = true
	err := validateConfig(cfg)
	require.Error(t, err)
}
