// Package config loads and validates the sidecar process configuration:
// YAML on disk, overlaid with environment variables, decoded strictly
// (unknown fields rejected) and defaulted the way the teacher's
// internal/config loads its own YAML with gopkg.in/yaml.v3.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the sidecar Agent Core process.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	EventStore   EventStoreConfig   `yaml:"event_store"`
	Token        TokenConfig        `yaml:"token"`
	Step         StepConfig         `yaml:"step"`
	ContextPack  ContextPackConfig  `yaml:"context"`
	Compaction   CompactionConfig   `yaml:"compaction"`
	Policy       PolicyConfig       `yaml:"policy"`
	Cloud        CloudConfig        `yaml:"cloud"`
	Mode         string             `yaml:"mode"`
}

// ServerConfig configures the process's HTTP surface (metrics, health).
type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}

// LoggingConfig configures the ambient structured logger (internal/audit).
type LoggingConfig struct {
	Level        string  `yaml:"level"`
	Format       string  `yaml:"format"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// EventStoreConfig configures the durable event log backend.
type EventStoreConfig struct {
	// DSN is the sqlite DSN, e.g. "file:sidecar.db?cache=shared". Empty
	// means in-memory, used for tests and the `sidecar run` dev command.
	DSN         string `yaml:"dsn"`
	QueueDepth  int    `yaml:"queue_depth"`
}

// TokenConfig configures the Capability Token Service.
// Field names mirror spec.md §6's configuration table.
type TokenConfig struct {
	TTLMillis int64 `yaml:"ttl_ms"`
}

// StepConfig configures the Orchestrator's per-step bounds and deadlines.
type StepConfig struct {
	MaxRetries        int   `yaml:"max_retries"`
	PlannerDeadlineMs int64 `yaml:"planner_deadline_ms"`
	ToolDeadlineMs    int64 `yaml:"tool_deadline_ms"`
	ObserveDeadlineMs int64 `yaml:"observe_deadline_ms"`
}

// ContextPackConfig configures the Context Pack Builder's budget.
type ContextPackConfig struct {
	BudgetTokens int `yaml:"budget_tokens"`
}

// CompactionConfig holds checkpoint cadence and chain-signing settings.
// They are defaulted, validated and checked by `sidecar doctor`, but the
// Orchestrator does not read them: it checkpoints at a fixed interval of 40
// steps, and no code computes checkpoint signatures.
type CompactionConfig struct {
	CheckpointEveryEvents int    `yaml:"checkpoint_every_events"`
	SignCheckpoints       bool   `yaml:"sign_checkpoints"`
	SigningKey            string `yaml:"signing_key"`
}

// PolicyConfig selects the active decision matrix.
type PolicyConfig struct {
	MatrixVersion string `yaml:"matrix_version"`
	MatrixPath    string `yaml:"matrix_path"`
}

// CloudConfig controls whether context packs may additionally be re-screened
// and sent to a cloud-hosted planner.
type CloudConfig struct {
	Enabled bool `yaml:"enabled"`
}

func (d StepConfig) PlannerDeadline() time.Duration {
	return time.Duration(d.PlannerDeadlineMs) * time.Millisecond
}

func (d StepConfig) ToolDeadline() time.Duration {
	return time.Duration(d.ToolDeadlineMs) * time.Millisecond
}

func (d StepConfig) ObserveDeadline() time.Duration {
	return time.Duration(d.ObserveDeadlineMs) * time.Millisecond
}

func (t TokenConfig) TTL() time.Duration {
	return time.Duration(t.TTLMillis) * time.Millisecond
}

// Load reads, expands, strictly decodes, defaults, and validates the
// configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with only defaults applied, used by tests and
// the `sidecar run` dev command when no config file is supplied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.SampleRate == 0 {
		cfg.Logging.SampleRate = 1.0
	}
	if cfg.EventStore.QueueDepth == 0 {
		cfg.EventStore.QueueDepth = 256
	}
	if cfg.Token.TTLMillis == 0 {
		cfg.Token.TTLMillis = 30_000
	}
	if cfg.Step.MaxRetries == 0 {
		cfg.Step.MaxRetries = 2
	}
	if cfg.Step.PlannerDeadlineMs == 0 {
		cfg.Step.PlannerDeadlineMs = 20_000
	}
	if cfg.Step.ToolDeadlineMs == 0 {
		cfg.Step.ToolDeadlineMs = 10_000
	}
	if cfg.Step.ObserveDeadlineMs == 0 {
		cfg.Step.ObserveDeadlineMs = 5_000
	}
	if cfg.ContextPack.BudgetTokens == 0 {
		cfg.ContextPack.BudgetTokens = 8_000
	}
	if cfg.Compaction.CheckpointEveryEvents == 0 {
		cfg.Compaction.CheckpointEveryEvents = 40
	}
	if cfg.Policy.MatrixVersion == "" {
		cfg.Policy.MatrixVersion = "v1"
	}
	if cfg.Mode == "" {
		cfg.Mode = "assist"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv("SIDECAR_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("SIDECAR_METRICS_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("SIDECAR_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("SIDECAR_EVENT_STORE_DSN")); v != "" {
		cfg.EventStore.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("SIDECAR_MODE")); v != "" {
		cfg.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("SIDECAR_SIGNING_KEY")); v != "" {
		cfg.Compaction.SigningKey = v
	}
}

// ValidationError collects every config problem found, following the
// teacher's aggregate-then-report validation pattern.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "read_only", "assist", "autopilot":
	default:
		issues = append(issues, `mode must be "read_only", "assist", or "autopilot"`)
	}
	if cfg.Token.TTLMillis < 0 {
		issues = append(issues, "token.ttl_ms must be >= 0")
	}
	if cfg.Step.MaxRetries < 0 {
		issues = append(issues, "step.max_retries must be >= 0")
	}
	if cfg.ContextPack.BudgetTokens <= 0 {
		issues = append(issues, "context.budget_tokens must be > 0")
	}
	if cfg.Compaction.CheckpointEveryEvents <= 0 {
		issues = append(issues, "compaction.checkpoint_every_events must be > 0")
	}
	if cfg.Compaction.SignCheckpoints && strings.TrimSpace(cfg.Compaction.SigningKey) == "" {
		issues = append(issues, "compaction.signing_key is required when sign_checkpoints is enabled")
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// MarshalCanonical is a test/debug helper returning a normalized YAML dump,
// handy for config diffing in the doctor command.
func MarshalCanonical(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
