package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/sidecar/internal/audit"
	"github.com/haasonsaas/sidecar/internal/bridge"
	"github.com/haasonsaas/sidecar/internal/doctor"
	"github.com/haasonsaas/sidecar/internal/observability"
)

// buildServeCmd creates the "serve" command: the long-running daemon that
// exposes the Agent Core's metrics surface and waits for a bridge
// connection. The extension bridge transport itself is out of this
// module's scope (spec.md §1); serve brings up the store, token service,
// policy gate, audit log and metrics so that a bridge implementation has a
// process to attach to. It does not build a tool router or an Orchestrator.
func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sidecar Agent Core daemon",
		Long: `Start the sidecar process: load configuration, open the event store,
initialize the capability token service and policy gate, and expose a
/metrics endpoint. No tool router or Orchestrator is constructed here. Runs (observe -> plan -> gate -> act -> verify
loops) are driven per-connection by whatever attaches through the
extension bridge; this command brings the process up and keeps it alive
until SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	comps, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "sidecar",
		ServiceVersion: version,
		Output:         "none",
	})
	comps.tracer = tracer
	defer func() { _ = shutdownTracer(context.Background()) }()

	hub := bridge.NewHub()
	_ = hub // the Emitter collaborator; wired into an Orchestrator by a real bridge attachment

	comps.audit.Log(ctx, &audit.Event{
		Type:   audit.EventProcessStartup,
		Level:  audit.LevelInfo,
		Action: "serve",
		Details: map[string]any{
			"version": version,
			"mode":    cfg.Mode,
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		runs, err := doctor.ProbeRuns(r.Context(), comps.store)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "probe failed: %v\n", err)
			return
		}
		status := doctor.SummarizeApprovals(runs)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, doctor.FormatApprovalStatus(status))
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("sidecar serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		slog.Info("sidecar shutting down")
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	comps.audit.Log(shutdownCtx, &audit.Event{
		Type:   audit.EventProcessShutdown,
		Level:  audit.LevelInfo,
		Action: "serve",
	})
	return srv.Shutdown(shutdownCtx)
}
