package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/sidecar/internal/observability"
)

// Logger provides async, buffered, structured audit logging on top of
// log/slog, following internal/audit/logger.go's original shape: a
// dedicated write-loop goroutine drains a buffered channel so Log() does not
// wait on I/O while the buffer has room (a full buffer falls back to writing
// the event synchronously on the caller's goroutine), with sampling and
// event-type filtering applied before an event is ever queued.
type Logger struct {
	config     Config
	output     io.WriteCloser
	slogger    *slog.Logger
	buffer     chan *Event
	wg         sync.WaitGroup
	done       chan struct{}
	eventTypes map[EventType]bool
}

// NewLogger creates a new audit logger with the given configuration.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxFieldSize == 0 {
		config.MaxFieldSize = 1024
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	eventTypes := make(map[EventType]bool)
	for _, et := range config.EventTypes {
		eventTypes[et] = true
	}

	l := &Logger{
		config:     config,
		output:     output,
		buffer:     make(chan *Event, config.BufferSize),
		done:       make(chan struct{}),
		eventTypes: eventTypes,
	}

	var handler slog.Handler
	switch config.Format {
	case FormatText:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	default:
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

// Close flushes remaining events and closes the logger.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log writes an audit event to the log.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.config.Enabled {
		return
	}
	if l.config.SampleRate < 1.0 && rand.Float64() > l.config.SampleRate {
		return
	}
	if len(l.eventTypes) > 0 && !l.eventTypes[event.Type] {
		return
	}
	if !l.shouldLog(event.Level) {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.TraceID == "" {
		event.TraceID = observability.GetTraceID(ctx)
	}
	if event.SpanID == "" {
		event.SpanID = observability.GetSpanID(ctx)
	}

	select {
	case l.buffer <- event:
	default:
		l.writeEvent(event)
	}
}

// LogPolicyDecision records one Policy Gate decide() outcome.
func (l *Logger) LogPolicyDecision(ctx context.Context, runID, tool, decision, reasonCode string) {
	l.Log(ctx, &Event{
		Type:   EventPolicyDecision,
		Level:  LevelInfo,
		RunID:  runID,
		Tool:   tool,
		Action: "policy_decision",
		Details: map[string]any{
			"decision":    decision,
			"reason_code": reasonCode,
		},
	})
}

// LogToolDispatch records a tool.request handed to the external executor.
func (l *Logger) LogToolDispatch(ctx context.Context, runID, requestID, tool string) {
	l.Log(ctx, &Event{
		Type:      EventToolDispatch,
		Level:     LevelInfo,
		RunID:     runID,
		RequestID: requestID,
		Tool:      tool,
		Action:    "tool_dispatched",
	})
}

// LogToolResult records the outcome of a dispatched tool call.
func (l *Logger) LogToolResult(ctx context.Context, runID, requestID, tool string, success bool, errorCode string, duration time.Duration) {
	level := LevelInfo
	if !success {
		level = LevelWarn
	}
	l.Log(ctx, &Event{
		Type:      EventToolResult,
		Level:     level,
		RunID:     runID,
		RequestID: requestID,
		Tool:      tool,
		Action:    "tool_result",
		Duration:  duration,
		Details: map[string]any{
			"success":    success,
			"error_code": errorCode,
		},
	})
}

// LogCapabilityMint records a capability token mint.
func (l *Logger) LogCapabilityMint(ctx context.Context, runID, keyID string, allowedTools []string) {
	l.Log(ctx, &Event{
		Type:   EventCapabilityMint,
		Level:  LevelInfo,
		RunID:  runID,
		Action: "capability_mint",
		Details: map[string]any{
			"key_id":        keyID,
			"allowed_tools": allowedTools,
		},
	})
}

// LogCapabilityRevoke records a capability token revocation.
func (l *Logger) LogCapabilityRevoke(ctx context.Context, runID, keyID, reason string) {
	l.Log(ctx, &Event{
		Type:   EventCapabilityRevoke,
		Level:  LevelWarn,
		RunID:  runID,
		Action: "capability_revoke",
		Details: map[string]any{
			"key_id": keyID,
			"reason": reason,
		},
	})
}

// LogCapabilityRotate records a keyring rotation.
func (l *Logger) LogCapabilityRotate(ctx context.Context, runID, newKeyID, reason string) {
	l.Log(ctx, &Event{
		Type:   EventCapabilityRotate,
		Level:  LevelInfo,
		RunID:  runID,
		Action: "capability_rotate",
		Details: map[string]any{
			"new_key_id": newKeyID,
			"reason":     reason,
		},
	})
}

// LogChainVerify records an Event Store chain verification pass.
func (l *Logger) LogChainVerify(ctx context.Context, runID string, ok bool, breakAt int64) {
	level := LevelInfo
	if !ok {
		level = LevelError
	}
	l.Log(ctx, &Event{
		Type:   EventChainVerify,
		Level:  level,
		RunID:  runID,
		Action: "chain_verify",
		Details: map[string]any{
			"ok":       ok,
			"break_at": breakAt,
		},
	})
}

// LogRunTransition records a run.state transition.
func (l *Logger) LogRunTransition(ctx context.Context, runID, from, to, reason string) {
	l.Log(ctx, &Event{
		Type:   EventRunTransition,
		Level:  LevelInfo,
		RunID:  runID,
		Action: "run_transition",
		Details: map[string]any{
			"from":   from,
			"to":     to,
			"reason": reason,
		},
	})
}

// LogAutonomyDowngrade records a forced autonomy-mode downgrade.
func (l *Logger) LogAutonomyDowngrade(ctx context.Context, runID, from, to, reason string) {
	l.Log(ctx, &Event{
		Type:   EventAutonomyDowngrade,
		Level:  LevelWarn,
		RunID:  runID,
		Action: "autonomy_downgrade",
		Details: map[string]any{
			"from":   from,
			"to":     to,
			"reason": reason,
		},
	})
}

// LogInjectionSuspect records a grounding-check rejection due to a
// suspicious observation (likely-injection pattern or overlay signal).
func (l *Logger) LogInjectionSuspect(ctx context.Context, runID, signal string) {
	l.Log(ctx, &Event{
		Type:   EventInjectionSuspect,
		Level:  LevelWarn,
		RunID:  runID,
		Action: "injection_suspect",
		Details: map[string]any{
			"signal": signal,
		},
	})
}

// LogPanic records a process panic, which revokes every outstanding
// capability token and wipes the keyring synchronously.
func (l *Logger) LogPanic(ctx context.Context, runID, errorMsg string) {
	l.Log(ctx, &Event{
		Type:   EventProcessPanic,
		Level:  LevelError,
		RunID:  runID,
		Action: "process_panic",
		Error:  errorMsg,
	})
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.RunID != "" {
		attrs = append(attrs, "run_id", event.RunID)
	}
	if event.EventID != 0 {
		attrs = append(attrs, "event_id", event.EventID)
	}
	if event.Tool != "" {
		attrs = append(attrs, "tool", event.Tool)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	if event.TraceID != "" {
		attrs = append(attrs, "trace_id", event.TraceID)
	}
	if event.SpanID != "" {
		attrs = append(attrs, "span_id", event.SpanID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}
	return levels[level] >= levels[l.config.Level]
}

func (l *Logger) slogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// SetGlobalLogger sets the process-wide audit logger.
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide audit logger.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Log logs an event using the global logger, a no-op if none is set.
func Log(ctx context.Context, event *Event) {
	if l := GetGlobalLogger(); l != nil {
		l.Log(ctx, event)
	}
}
