package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/sidecar/internal/bridge"
	"github.com/haasonsaas/sidecar/internal/bridge/localbrowser"
	"github.com/haasonsaas/sidecar/internal/devmodel"
	"github.com/haasonsaas/sidecar/internal/orchestrator"
	"github.com/haasonsaas/sidecar/internal/toolrouter"
	"github.com/haasonsaas/sidecar/pkg/model"
)

// buildRunCmd drives one goal end-to-end against a local Playwright-backed
// browser (internal/bridge/localbrowser), standing in for the real
// extension bridge, and either a scripted model (--script) or a trivial
// built-in stub when no real model runtime is configured — the model
// runtime itself is out of this module's scope (spec.md §1), so this
// command exists to exercise the Policy Gate, Context Pack Builder, Tool
// Router and Orchestrator loop against a real page without one.
func buildRunCmd() *cobra.Command {
	var (
		url        string
		scriptPath string
		modeFlag   string
		headless   bool
	)

	cmd := &cobra.Command{
		Use:   "run [goal]",
		Short: "Drive one goal end-to-end against a local browser for testing",
		Long: `Starts a fresh run against a local headless browser, folding the goal
through observe -> plan -> gate -> act -> verify until the run reaches a
terminal state or pauses for approval. Intended for local development and
manual testing of the Agent Core, not production use.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := "summarize this page"
			if len(args) == 1 {
				goal = args[0]
			}
			return runDevLoop(cmd.Context(), goal, url, scriptPath, modeFlag, headless)
		},
	}
	cmd.Flags().StringVar(&url, "url", "https://example.com", "initial URL to navigate to before the run starts")
	cmd.Flags().StringVar(&scriptPath, "script", "", "path to a JSON array of devmodel.Step for a scripted planner (default: a single document-only response)")
	cmd.Flags().StringVar(&modeFlag, "mode", "", "autonomy mode override (read_only, assist, autopilot)")
	cmd.Flags().BoolVar(&headless, "headless", true, "run the local browser headless")
	return cmd
}

func runDevLoop(ctx context.Context, goal, url, scriptPath, modeFlag string, headless bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mode, err := parseMode(modeFlag, cfg)
	if err != nil {
		return err
	}

	comps, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	executor, err := localbrowser.New(localbrowser.Config{Headless: headless})
	if err != nil {
		return fmt.Errorf("launch local browser: %w", err)
	}
	defer executor.Close()

	if _, err := executor.Execute(ctx, model.ToolCall{
		RequestID: uuid.NewString(),
		Tool:      "browser.navigate",
		Args:      map[string]any{"url": url},
	}); err != nil {
		return fmt.Errorf("initial navigate to %s: %w", url, err)
	}

	router := toolrouter.New(toolrouter.Config{
		Schemas:           comps.schemas,
		Tokens:            comps.tokens,
		Store:             comps.store,
		Executor:          executor,
		MutatingPerSecond: 2,
		MutatingBurst:     1,
		ReadsPerSecond:    5,
		ReadsBurst:        2,
	})

	var planner orchestrator.Planner
	toolNames := toolSchemaNames()
	if strings.TrimSpace(scriptPath) != "" {
		scripted, err := devmodel.LoadScript(scriptPath)
		if err != nil {
			return err
		}
		planner = orchestrator.NewTextPlanner(scripted, toolNames)
	} else {
		planner = orchestrator.NewTextPlanner(devmodel.NewScriptedModel(nil), toolNames)
	}

	hub := bridge.NewHub()
	sub := hub.Subscribe()
	defer sub.Close()
	go func() {
		for view := range sub.C {
			fmt.Printf("[ui.state] run=%s state=%s next=%q\n", view.Run.ID, view.Run.Status, view.Run.NextStepPreview)
		}
	}()

	orch := orchestrator.New(orchestrator.Config{
		Store:    comps.store,
		Tokens:   comps.tokens,
		Gate:     comps.gate,
		Router:   router,
		Planner:  planner,
		Observer: executor,
		Audit:    comps.audit,
		Metrics:  comps.metrics,
		Emitter:  hub,
		Step:     cfg.Step,
		ToolSchemas: func() []string { return toolNames },
		ContextBudgetTokens: cfg.ContextPack.BudgetTokens,
		TokenTTL:            cfg.Token.TTL(),
	})

	runID := uuid.NewString()
	binding := model.Binding{
		RunID:  runID,
		Origin: url,
		Mode:   mode,
	}

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	state, err := orch.Execute(runCtx, orchestrator.RunRequest{
		RunID:   runID,
		Binding: binding,
		Goal:    goal,
	})
	if err != nil {
		return fmt.Errorf("run %s ended in error: %w", runID, err)
	}
	fmt.Printf("run %s finished in state %s\n", runID, state)
	return nil
}

func toolSchemaNames() []string {
	names := make([]string, 0, 6)
	for _, s := range toolrouter.DefaultToolSchemas() {
		names = append(names, s.Name)
	}
	return names
}
