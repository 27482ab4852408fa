package doctor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MigrationReport records legacy config keys rewritten into their current
// shape, following the teacher's ApplyConfigMigrations report-then-apply
// pattern (internal/doctor/migrations.go), generalized from "plugins ->
// tools" renames to the sidecar config's own legacy flat keys.
type MigrationReport struct {
	Applied []string
}

// LoadRawConfig reads a YAML config file into a mutable map, for migration
// inspection without committing to the strict Config schema.
func LoadRawConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("doctor: read config: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("doctor: parse config: %w", err)
	}
	return raw, nil
}

// WriteRawConfig writes a config map back to disk as YAML, preserving the
// original file's permission bits.
func WriteRawConfig(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, data, mode)
}

// ApplyConfigMigrations rewrites legacy flat config keys (from config
// versions before the nested server/event_store/token/step/context layout
// settled) into their current nested form, in place. It is additive-only:
// a key already present in its current nested form is never overwritten.
func ApplyConfigMigrations(raw map[string]any) MigrationReport {
	var report MigrationReport
	if raw == nil {
		return report
	}

	moves := []struct {
		legacyKey string
		section   string
		field     string
	}{
		{"cloud_enabled", "cloud", "enabled"},
		{"policy_matrix_version", "policy", "matrix_version"},
		{"context_budget_tokens", "context", "budget_tokens"},
		{"token_ttl_ms", "token", "ttl_ms"},
	}

	for _, mv := range moves {
		val, ok := raw[mv.legacyKey]
		if !ok {
			continue
		}
		delete(raw, mv.legacyKey)
		section := ensureStringMap(raw, mv.section)
		if _, exists := section[mv.field]; exists {
			report.Applied = append(report.Applied,
				fmt.Sprintf("removed %s (%s.%s already set)", mv.legacyKey, mv.section, mv.field))
			continue
		}
		section[mv.field] = val
		report.Applied = append(report.Applied,
			fmt.Sprintf("moved %s -> %s.%s", mv.legacyKey, mv.section, mv.field))
	}

	if mode, ok := raw["autonomy"]; ok {
		if _, exists := raw["mode"]; !exists {
			raw["mode"] = mode
			report.Applied = append(report.Applied, "renamed autonomy -> mode")
		} else {
			report.Applied = append(report.Applied, "removed autonomy (mode already set)")
		}
		delete(raw, "autonomy")
	}

	return report
}

func ensureStringMap(root map[string]any, key string) map[string]any {
	if root == nil {
		return nil
	}
	current, ok := root[key]
	if !ok {
		m := map[string]any{}
		root[key] = m
		return m
	}
	switch value := current.(type) {
	case map[string]any:
		return value
	case map[any]any:
		converted := map[string]any{}
		for k, v := range value {
			converted[fmt.Sprint(k)] = v
		}
		root[key] = converted
		return converted
	default:
		m := map[string]any{}
		root[key] = m
		return m
	}
}
