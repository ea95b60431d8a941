// Package audit writes an append-only JSON-lines record of every policy
// decision, tool outcome, gate run and loop transition.
package audit

import "time"

// EventType identifies the kind of audit event.
type EventType string

const (
	// EventDecision is a pre-check decision for a proposed tool call.
	EventDecision EventType = "decision"
	// EventOutcome is the result of an executed tool call.
	EventOutcome EventType = "outcome"
	// EventHookFailure is a hook that errored or panicked.
	EventHookFailure EventType = "hook_failure"
	// EventContext is injected prompt context.
	EventContext EventType = "context"
	// EventGate is a completion gate report.
	EventGate EventType = "gate"
	// EventLoop is a loop iteration or breaker reset.
	EventLoop EventType = "loop"
	// EventSession marks session start.
	EventSession EventType = "session"
)

// Event is one audit record.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	SessionID string `json:"session_id,omitempty"`
	HookEvent string `json:"hook_event,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	Decision string `json:"decision,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`
	Reason   string `json:"reason,omitempty"`

	Duration time.Duration  `json:"duration,omitempty"`
	Error    string         `json:"error,omitempty"`
	Details  map[string]any `json:"details,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// Config configures the audit log.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Output is "stderr", "file:/path" or a bare path. Stdout is reserved
	// for the hook wire record and is rejected.
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// IncludeToolInput records full tool arguments. Otherwise they are
	// replaced by a SHA-256 digest.
	IncludeToolInput bool `yaml:"include_tool_input,omitempty" json:"include_tool_input,omitempty"`

	// MaxFieldSize truncates long string fields. Zero uses the default.
	MaxFieldSize int `yaml:"max_field_size,omitempty" json:"max_field_size,omitempty"`

	// EventTypes limits which events are written. Empty means all.
	EventTypes []EventType `yaml:"event_types,omitempty" json:"event_types,omitempty"`
}

// DefaultMaxFieldSize bounds string fields when MaxFieldSize is unset.
const DefaultMaxFieldSize = 2048

// DefaultConfig returns a disabled audit configuration.
func DefaultConfig() Config {
	return Config{
		Output:       "file:.hookguard/audit.jsonl",
		MaxFieldSize: DefaultMaxFieldSize,
	}
}
