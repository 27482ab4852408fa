// Package main provides the CLI entry point for the sidecar Agent Core.
//
// sidecar mediates between an untrusted browser page (reached through a
// thin extension bridge, out of scope for this binary) and a local model
// runtime, producing a grounded answer or a sequence of typed,
// policy-gated tool calls. This binary is the process shell around the
// Agent Core packages: it wires config, the event store, the capability
// token service, the policy gate, the context pack builder, the tool
// router and the orchestrator into one runnable daemon, plus operator
// tooling (status, migrate, doctor, verify) and a local dev loop (run)
// that exercises the whole stack against a Playwright-backed stand-in for
// the real extension bridge.
//
// # Basic usage
//
//	sidecar serve --config sidecar.yaml
//	sidecar status --config sidecar.yaml
//	sidecar doctor --config sidecar.yaml
//	sidecar verify --config sidecar.yaml --run <run-id>
//	sidecar run --script ./testdata/script.json "summarize this page"
//
// # Environment variables
//
//   - SIDECAR_HOST, SIDECAR_METRICS_PORT, SIDECAR_LOG_LEVEL
//   - SIDECAR_EVENT_STORE_DSN, SIDECAR_MODE, SIDECAR_SIGNING_KEY
package main

import (
	"fmt"
	"log/slog"
	"os"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
