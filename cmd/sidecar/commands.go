package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/sidecar/internal/audit"
	"github.com/haasonsaas/sidecar/internal/captoken"
	"github.com/haasonsaas/sidecar/internal/config"
	"github.com/haasonsaas/sidecar/internal/eventstore"
	"github.com/haasonsaas/sidecar/internal/observability"
	"github.com/haasonsaas/sidecar/internal/policygate"
	"github.com/haasonsaas/sidecar/internal/toolrouter"
	"github.com/haasonsaas/sidecar/pkg/model"
)

var configPath string

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can build and inspect the tree without
// executing it.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sidecar",
		Short: "sidecar - the Agent Core of a browser-embedded AI agent",
		Long: `sidecar mediates between an untrusted web page and a local model,
producing a grounded answer or a bounded sequence of typed, policy-gated
tool calls: observe -> plan -> gate -> act -> verify, one mutating step at
a time, every decision recorded in an append-only, hash-chained run log.

Documentation: the component design in this repository's spec docs.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to sidecar.yaml (unset uses built-in defaults)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
		buildMigrateCmd(),
		buildVerifyCmd(),
		buildDoctorCmd(),
		buildRunCmd(),
	)
	return rootCmd
}

// loadConfig reads configPath if set, otherwise returns defaults. Mirrors
// the teacher's resolveConfigPath + config.Load pairing, minus profile
// indirection (sidecar runs single-profile per process).
func loadConfig() (*config.Config, error) {
	if strings.TrimSpace(configPath) == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// openStore opens the event store backend named by cfg: sqlite if a DSN is
// configured, in-memory otherwise (the `run` dev command's default).
func openStore(cfg *config.Config) (eventstore.Store, error) {
	if strings.TrimSpace(cfg.EventStore.DSN) == "" {
		return eventstore.NewMemoryStore(cfg.EventStore.QueueDepth), nil
	}
	return eventstore.OpenSQLite(cfg.EventStore.DSN, cfg.EventStore.QueueDepth)
}

// openAudit builds the audit logger from cfg's logging section.
func openAudit(cfg *config.Config) (*audit.Logger, error) {
	ac := audit.DefaultConfig()
	if cfg.Logging.Level != "" {
		ac.Level = audit.Level(strings.ToLower(cfg.Logging.Level))
	}
	if cfg.Logging.Format != "" {
		ac.Format = audit.OutputFormat(strings.ToLower(cfg.Logging.Format))
	}
	if cfg.Logging.SampleRate > 0 {
		ac.SampleRate = cfg.Logging.SampleRate
	}
	return audit.NewLogger(ac)
}

// defaultCategorizer maps the built-in browser.* tool surface
// (toolrouter.DefaultToolSchemas) to Policy Gate categories. A deployment
// with a richer tool surface supplies its own Categorizer; this one covers
// exactly what ships by default.
func defaultCategorizer(tool string) policygate.ToolCategory {
	switch tool {
	case "browser.observe", "browser.extract", "browser.scroll":
		return policygate.CategoryRead
	case "browser.navigate":
		return policygate.CategoryNavigate
	case "browser.type":
		return policygate.CategoryFormInput
	case "browser.click":
		return policygate.CategoryFormSubmit
	default:
		return policygate.CategoryOther
	}
}

// buildGate constructs a Policy Gate from cfg, loading the configured
// decision matrix file if one is set, falling back to the conservative
// built-in default.
func buildGate(cfg *config.Config) (*policygate.Gate, error) {
	matrix := policygate.DefaultMatrix()
	if strings.TrimSpace(cfg.Policy.MatrixPath) != "" {
		loaded, err := policygate.LoadMatrix(cfg.Policy.MatrixPath)
		if err != nil {
			return nil, fmt.Errorf("load policy matrix: %w", err)
		}
		matrix = loaded
	}
	return policygate.NewGate(policygate.Config{
		Matrix:              matrix,
		Categorize:          defaultCategorizer,
		Overrides:           policygate.NewOverrideStore(),
		PaymentTools:        []string{"browser.submit_payment"},
		IdentityChangeTools: []string{"browser.change_password", "browser.change_email"},
	}), nil
}

// policyMatrixFor loads cfg's configured decision matrix file, falling
// back to the built-in default exactly as buildGate does; used by the
// doctor command, which checks matrix config without needing a full Gate.
func policyMatrixFor(cfg *config.Config) *policygate.Matrix {
	if strings.TrimSpace(cfg.Policy.MatrixPath) != "" {
		if loaded, err := policygate.LoadMatrix(cfg.Policy.MatrixPath); err == nil {
			return loaded
		}
	}
	return policygate.DefaultMatrix()
}

// buildSchemaRegistry registers the default browser.* tool surface.
func buildSchemaRegistry() (*toolrouter.SchemaRegistry, error) {
	reg := toolrouter.NewSchemaRegistry()
	for _, schema := range toolrouter.DefaultToolSchemas() {
		if err := reg.Register(schema); err != nil {
			return nil, fmt.Errorf("register tool schema %s: %w", schema.Name, err)
		}
	}
	return reg, nil
}

// components bundles every collaborator a command needs, constructed once
// from config and torn down together. Commands that don't need the full
// stack (status, doctor) only use the pieces they need.
type components struct {
	cfg     *config.Config
	store   eventstore.Store
	tokens  *captoken.Service
	gate    *policygate.Gate
	schemas *toolrouter.SchemaRegistry
	audit   *audit.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

func (c *components) Close() error {
	var firstErr error
	if c.audit != nil {
		if err := c.audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildComponents(cfg *config.Config) (*components, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	tokens, err := captoken.NewService()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init capability token service: %w", err)
	}
	gate, err := buildGate(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	schemas, err := buildSchemaRegistry()
	if err != nil {
		store.Close()
		return nil, err
	}
	auditLogger, err := openAudit(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init audit logger: %w", err)
	}
	metrics := observability.NewMetrics()

	return &components{
		cfg:     cfg,
		store:   store,
		tokens:  tokens,
		gate:    gate,
		schemas: schemas,
		audit:   auditLogger,
		metrics: metrics,
	}, nil
}

// parseMode validates a --mode flag value against model.Mode, defaulting
// to cfg.Mode when empty.
func parseMode(raw string, cfg *config.Config) (model.Mode, error) {
	if strings.TrimSpace(raw) == "" {
		raw = cfg.Mode
	}
	switch model.Mode(strings.ToLower(raw)) {
	case model.ModeReadOnly, model.ModeAssist, model.ModeAutopilot:
		return model.Mode(strings.ToLower(raw)), nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be read_only, assist, or autopilot", raw)
	}
}
