// Package observability provides monitoring and debugging capabilities for
// the agent sidecar process through metrics and local tracing. Structured,
// redacting audit logging lives in internal/audit rather than here, since
// the audit log is a security-relevant record of policy decisions and tool
// dispatch, not a general-purpose logging facility.
//
// # Overview
//
// The observability package implements two of the three pillars of
// observability; the third, logging, is internal/audit's responsibility:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Tracing - Run and tool-dispatch spans via OpenTelemetry
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: the sidecar shares a machine with the browser it drives
//   - Type-safe: strongly-typed config structs reduce wiring errors
//   - Local-first: no observability pipeline assumes a remote collector
//   - Standards-based: Prometheus and OpenTelemetry
//
// # Metrics
//
// Metrics are implemented using the Prometheus client library and track:
//   - Run state transitions and run duration by outcome
//   - Policy Gate decisions by tool and reason code
//   - Tool Router dispatch counts and latency
//   - Event Store append throughput and chain verification results
//   - Capability token mint/revoke lifecycle
//   - Context Pack Builder budget utilization and degradations
//   - Forced autonomy downgrades
//   - Errors by component and taxonomy code
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.RecordRunTransition("observing", "planning")
//
//	start := time.Now()
//	// ... dispatch tool ...
//	metrics.RecordToolExecution("browser.click", "success", time.Since(start).Seconds())
//
//	metrics.RecordPolicyDecision("browser.submit_payment", "deny", "P_DENY_PAYMENT_TOOL")
//
// # Tracing
//
// Tracing uses OpenTelemetry to track a run across its observe/plan/gate/act/verify
// steps. Because the sidecar is a browser-embedded process with no remote
// collector nearby, spans are written to a local sink (stdout or a file)
// rather than shipped over OTLP:
//   - Run step transitions
//   - Tool dispatch round trips
//   - Policy Gate decisions
//   - Event Store appends
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "sidecar",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Output:         "file:/var/log/sidecar/trace.jsonl",
//	    SamplingRate:   0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceRunStep(ctx, runID, "planning")
//	defer span.End()
//
//	ctx, toolSpan := tracer.TraceToolDispatch(ctx, runID, requestID, "browser.click")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// Setting Output to "none" or leaving it empty installs a no-op tracer,
// which is the right default for local development and tests.
//
// # Context Propagation
//
// Tracing integrates with Go's context for automatic correlation, the same
// way internal/audit.Logger threads run/tool identifiers through its own
// Event fields rather than through ambient context keys:
//
//	ctx, span := tracer.Start(ctx, "operation")
//	// trace context propagates to child spans
//
// # Integration Example
//
// Metrics and tracing around one tool dispatch, with internal/audit
// recording the security-relevant outcome:
//
//	func (r *Router) Dispatch(ctx context.Context, runID, requestID, tool string, args any) error {
//	    ctx, span := tracer.TraceToolDispatch(ctx, runID, requestID, tool)
//	    defer span.End()
//
//	    start := time.Now()
//	    err := r.call(ctx, tool, args)
//	    elapsed := time.Since(start).Seconds()
//
//	    if err != nil {
//	        metrics.RecordToolExecution(tool, "error", elapsed)
//	        metrics.RecordError("toolrouter", classify(err))
//	        tracer.RecordError(span, err)
//	        return err
//	    }
//
//	    metrics.RecordToolExecution(tool, "success", elapsed)
//	    return nil
//	}
//
// # Performance
//
// The observability system is designed for minimal overhead on a process
// that shares CPU with the browser it instruments:
//   - Metrics use lock-free counters where possible
//   - Tracing supports sampling and a no-op mode to eliminate overhead entirely
//
// # Configuration
//
// Both components support configuration via structs:
//
//	// Metrics - no configuration needed, auto-registered
//	metrics := observability.NewMetrics()
//
//	// Tracing - configurable sampling, local sink, attributes
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "sidecar",
//	    ServiceVersion: version,
//	    Environment:    env,
//	    Output:         os.Getenv("SIDECAR_TRACE_OUTPUT"), // "stdout", "none", or "file:<path>"
//	    SamplingRate:   0.1,
//	    Attributes: map[string]string{
//	        "deployment.profile": profile,
//	    },
//	})
//	defer shutdown(context.Background())
//
// # Testing
//
// Both components provide testable interfaces:
//   - Metrics can be verified using prometheus/testutil against an isolated registry
//   - Tracing writes to a temp file sink in tests, with no network dependency
//
// # Best Practices
//
//  1. Always propagate context to enable run/tool correlation
//  2. Use defer for span.End() to ensure spans are closed
//  3. Record errors on both metrics and traces
//  4. Set SamplingRate below 1.0 for long-running autopilot sessions
//  5. Use typed metric labels (avoid high-cardinality values like raw URLs)
//  6. Call shutdown() on the tracer during graceful shutdown
//
// # Monitoring Dashboard
//
// The metrics exposed can be used to build dashboards:
//
//	# Tool dispatch throughput
//	rate(sidecar_tool_executions_total[5m])
//
//	# Tool dispatch latency (95th percentile)
//	histogram_quantile(0.95, rate(sidecar_tool_execution_duration_seconds_bucket[5m]))
//
//	# Policy deny rate
//	rate(sidecar_policy_decisions_total{decision="deny"}[5m])
//
//	# Active runs
//	sidecar_active_runs
//
//	# Chain verification failures
//	rate(sidecar_chain_verifications_total{result="broken"}[5m])
//
// # Alerting
//
// Recommended alerts based on metrics:
//   - High error rate: sidecar_errors_total > threshold
//   - Broken chain: sidecar_chain_verifications_total{result="broken"} > 0
//   - Context pack degradations climbing: rate(sidecar_context_pack_degradations_total[15m])
//   - Run accumulation: sidecar_active_runs growing unbounded
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
