// Package protocol defines the hook wire format: one JSON record on stdin,
// at most one JSON record on stdout, and the process exit code.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/hookguard/internal/hooks"
	"github.com/haasonsaas/hookguard/internal/loop"
	"github.com/haasonsaas/hookguard/internal/policy"
)

// Event names a lifecycle event.
type Event string

const (
	EventSessionStart     Event = "SessionStart"
	EventUserPromptSubmit Event = "UserPromptSubmit"
	EventPreToolUse       Event = "PreToolUse"
	EventPostToolUse      Event = "PostToolUse"
	EventStop             Event = "Stop"
	// EventLoopIteration reports an autonomous loop iteration outside a
	// Stop event.
	EventLoopIteration Event = "LoopIteration"
)

// Events lists every known event in lifecycle order.
var Events = []Event{EventSessionStart, EventUserPromptSubmit, EventPreToolUse, EventPostToolUse, EventStop, EventLoopIteration}

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	for _, known := range Events {
		if e == known {
			return true
		}
	}
	return false
}

// Key is the snake_case form used in metric labels and span names.
func (e Event) Key() string {
	var b strings.Builder
	for i, r := range string(e) {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Exit codes.
const (
	ExitContinue = 0
	ExitError    = 1
	ExitBlock    = 2
)

// MaxInputBytes bounds the stdin record.
const MaxInputBytes = 8 << 20

// ErrInputTooLarge is returned when stdin exceeds MaxInputBytes.
var ErrInputTooLarge = errors.New("hook input exceeds size limit")

// Input is the stdin record.
type Input struct {
	HookEventName Event          `json:"hook_event_name"`
	SessionID     string         `json:"session_id"`
	Cwd           string         `json:"cwd,omitempty"`
	Prompt        string         `json:"prompt,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolInput     map[string]any `json:"tool_input,omitempty"`

	// ToolResponse is an object or a plain string, depending on the tool.
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`

	LastMessage string      `json:"last_message,omitempty"`
	Loop        *LoopReport `json:"loop,omitempty"`
}

// LoopReport is the iteration report attached to Stop and LoopIteration.
type LoopReport struct {
	Progress       bool          `json:"progress"`
	ErrorSignature string        `json:"error_signature,omitempty"`
	Category       loop.Category `json:"category,omitempty"`
	ExitSignal     bool          `json:"exit_signal,omitempty"`

	// FilesChanged infers Category when it is empty.
	FilesChanged []string `json:"files_changed,omitempty"`
}

// Decode reads and validates one record.
func Decode(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxInputBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read hook input: %w", err)
	}
	if len(data) > MaxInputBytes {
		return nil, ErrInputTooLarge
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse hook input: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}

// Validate checks the fields each event requires.
func (in *Input) Validate() error {
	if !in.HookEventName.Valid() {
		return fmt.Errorf("unknown hook_event_name %q", in.HookEventName)
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return errors.New("session_id is required")
	}
	switch in.HookEventName {
	case EventPreToolUse, EventPostToolUse:
		if strings.TrimSpace(in.ToolName) == "" {
			return fmt.Errorf("%s requires tool_name", in.HookEventName)
		}
	case EventLoopIteration:
		if in.Loop == nil {
			return fmt.Errorf("%s requires loop", in.HookEventName)
		}
	}
	if in.Loop != nil && in.Loop.Category != "" && !in.Loop.Category.Valid() {
		return fmt.Errorf("unknown loop category %q", in.Loop.Category)
	}
	return nil
}

// Invocation returns the tool call described by the record.
func (in *Input) Invocation() policy.Invocation {
	return policy.Invocation{ToolName: in.ToolName, Arguments: in.ToolInput}
}

// Call wraps the invocation for the pipeline.
func (in *Input) Call() *hooks.Call {
	return &hooks.Call{SessionID: in.SessionID, Cwd: in.Cwd, Invocation: in.Invocation()}
}

// toolResponse is the object form of tool_response. Field names vary by
// tool, so several spellings are accepted.
type toolResponse struct {
	ExitCode    *int   `json:"exit_code"`
	ExitCodeAlt *int   `json:"exitCode"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	Output      string `json:"output"`
	Error       string `json:"error"`
	IsError     bool   `json:"is_error"`
	Interrupted bool   `json:"interrupted"`
	TimedOut    bool   `json:"timed_out"`
	DurationMS  int64  `json:"duration_ms"`
}

// Outcome interprets tool_response.
func (in *Input) Outcome() hooks.Outcome {
	raw := strings.TrimSpace(string(in.ToolResponse))
	if raw == "" || raw == "null" {
		return hooks.Outcome{}
	}

	var text string
	if err := json.Unmarshal(in.ToolResponse, &text); err == nil {
		return hooks.Outcome{Output: text}
	}

	var resp toolResponse
	if err := json.Unmarshal(in.ToolResponse, &resp); err != nil {
		return hooks.Outcome{Output: raw}
	}
	out := hooks.Outcome{
		ErrorMsg: resp.Error,
		TimedOut: resp.TimedOut,
		Duration: time.Duration(resp.DurationMS) * time.Millisecond,
	}
	switch {
	case resp.ExitCode != nil:
		out.ExitCode = *resp.ExitCode
	case resp.ExitCodeAlt != nil:
		out.ExitCode = *resp.ExitCodeAlt
	}
	out.Output = strings.TrimSpace(strings.Join(nonEmpty(resp.Output, resp.Stdout, resp.Stderr), "\n"))
	if resp.IsError && out.ErrorMsg == "" {
		out.ErrorMsg = "tool reported an error"
	}
	if resp.Interrupted && out.ErrorMsg == "" {
		out.ErrorMsg = "interrupted"
	}
	return out
}

// Iteration converts the loop report. Without a report the iteration
// carries only the last message, which may hold the exit sentinel.
func (in *Input) Iteration() loop.Iteration {
	it := loop.Iteration{LastMessage: in.LastMessage}
	if in.Loop != nil {
		it.Progress = in.Loop.Progress
		it.ErrorSignature = in.Loop.ErrorSignature
		it.Category = in.Loop.Category
		it.ExitSignal = in.Loop.ExitSignal
	}
	return it
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// Output is the stdout record. An empty Output is not written.
type Output struct {
	Decision          string `json:"decision,omitempty"`
	Message           string `json:"message,omitempty"`
	AdditionalContext string `json:"additional_context,omitempty"`
}

// Wire decision values.
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

// Empty reports whether nothing should be written.
func (o Output) Empty() bool {
	return o == Output{}
}

// Response is the full result of one hook invocation.
type Response struct {
	Output   Output
	ExitCode int
	// Warnings are logged, never written to stdout.
	Warnings []string
}

// Continue is the response that defers to the host.
func Continue() Response {
	return Response{ExitCode: ExitContinue}
}

// Approve lets the action proceed.
func Approve(message string) Response {
	return Response{Output: Output{Decision: DecisionApprove, Message: message}, ExitCode: ExitContinue}
}

// Block denies the action or halts completion.
func Block(message string) Response {
	return Response{Output: Output{Decision: DecisionDeny, Message: message}, ExitCode: ExitBlock}
}

// Context injects additional context into the turn.
func Context(text string) Response {
	return Response{Output: Output{AdditionalContext: text}, ExitCode: ExitContinue}
}

// FromDecision maps a pre-check decision to the wire. AskUser and
// NoOpinion produce no output so the host applies its own confirmation.
func FromDecision(d policy.Decision) Response {
	switch d.Kind {
	case policy.Deny:
		return Block(d.Reason)
	case policy.Approve:
		return Approve(d.Reason)
	default:
		return Continue()
	}
}

// Write encodes the response's output, if any, as a single JSON line.
func Write(w io.Writer, resp Response) error {
	if resp.Output.Empty() {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(resp.Output); err != nil {
		return fmt.Errorf("write hook output: %w", err)
	}
	return nil
}
