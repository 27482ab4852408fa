// Package audit provides structured audit logging for the Agent Core's
// security-relevant actions: policy decisions, tool dispatch, capability
// token lifecycle, chain verification, and run-state transitions. This is
// the process's externally visible log stream; it is distinct from the
// run's event-sourced log (pkg/model.Event), which is the durable source of
// truth and is never discarded under backpressure the way an audit line
// can be sampled away.
package audit

import (
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	EventPolicyDecision    EventType = "policy.decision"
	EventToolDispatch      EventType = "tool.dispatch"
	EventToolResult        EventType = "tool.result"
	EventCapabilityMint    EventType = "capability.mint"
	EventCapabilityRevoke  EventType = "capability.revoke"
	EventCapabilityRotate  EventType = "capability.rotate"
	EventChainVerify       EventType = "chain.verify"
	EventRunTransition     EventType = "run.transition"
	EventRunCheckpoint     EventType = "run.checkpoint"
	EventAutonomyDowngrade EventType = "run.autonomy_downgrade"
	EventInjectionSuspect  EventType = "run.injection_suspect"
	EventProcessStartup    EventType = "process.startup"
	EventProcessShutdown   EventType = "process.shutdown"
	EventProcessPanic      EventType = "process.panic"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a single audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`

	RunID   string `json:"run_id,omitempty"`
	EventID int64  `json:"event_id,omitempty"`

	Tool       string `json:"tool,omitempty"`
	RequestID  string `json:"request_id,omitempty"`

	Action  string         `json:"action"`
	Details map[string]any `json:"details,omitempty"`

	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// OutputFormat specifies the audit log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	Enabled       bool         `yaml:"enabled"`
	Level         Level        `yaml:"level"`
	Format        OutputFormat `yaml:"format"`
	Output        string       `yaml:"output"`
	MaxFieldSize  int          `yaml:"max_field_size"`
	EventTypes    []EventType  `yaml:"event_types"`
	SampleRate    float64      `yaml:"sample_rate"`
	BufferSize    int          `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Level:         LevelInfo,
		Format:        FormatJSON,
		Output:        "stdout",
		MaxFieldSize:  1024,
		SampleRate:    1.0,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}
