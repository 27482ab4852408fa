package main

import (
	"testing"

	"github.com/haasonsaas/sidecar/internal/config"
	"github.com/haasonsaas/sidecar/pkg/model"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "status", "migrate", "verify", "doctor", "run"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestParseModeDefaultsToConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = "assist"

	mode, err := parseMode("", cfg)
	if err != nil {
		t.Fatalf("parseMode: %v", err)
	}
	if mode != model.ModeAssist {
		t.Fatalf("expected default mode assist, got %s", mode)
	}

	mode, err = parseMode("AUTOPILOT", cfg)
	if err != nil {
		t.Fatalf("parseMode override: %v", err)
	}
	if mode != model.ModeAutopilot {
		t.Fatalf("expected override autopilot, got %s", mode)
	}

	if _, err := parseMode("bogus", cfg); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestDefaultCategorizerCoversDefaultTools(t *testing.T) {
	reg, err := buildSchemaRegistry()
	if err != nil {
		t.Fatalf("buildSchemaRegistry: %v", err)
	}
	_ = reg

	for _, name := range toolSchemaNames() {
		if cat := defaultCategorizer(name); cat == "" {
			t.Fatalf("expected a non-empty category for tool %q", name)
		}
	}
}
