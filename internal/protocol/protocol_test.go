package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/hookguard/internal/loop"
	"github.com/haasonsaas/hookguard/internal/policy"
)

func TestDecodePreToolUse(t *testing.T) {
	in, err := Decode(strings.NewReader(`{
		"hook_event_name": "PreToolUse",
		"session_id": "s1",
		"cwd": "/repo",
		"tool_name": "Bash",
		"tool_input": {"command": "rm -rf /"},
		"unknown_field": 1
	}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	inv := in.Invocation()
	if inv.Command() != "rm -rf /" || !inv.IsShell() {
		t.Errorf("Invocation() = %+v", inv)
	}
	call := in.Call()
	if call.SessionID != "s1" || call.Cwd != "/repo" {
		t.Errorf("Call() = %+v", call)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name, input, want string
	}{
		{"not json", `{`, "parse hook input"},
		{"unknown event", `{"hook_event_name":"Bogus","session_id":"s"}`, "unknown hook_event_name"},
		{"missing session", `{"hook_event_name":"Stop"}`, "session_id"},
		{"missing tool", `{"hook_event_name":"PreToolUse","session_id":"s"}`, "tool_name"},
		{"loop without report", `{"hook_event_name":"LoopIteration","session_id":"s"}`, "requires loop"},
		{"bad category", `{"hook_event_name":"Stop","session_id":"s","loop":{"category":"golf"}}`, "category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Decode() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestDecodeTooLarge(t *testing.T) {
	big := `{"hook_event_name":"UserPromptSubmit","session_id":"s","prompt":"` + strings.Repeat("x", MaxInputBytes) + `"}`
	if _, err := Decode(strings.NewReader(big)); !errors.Is(err, ErrInputTooLarge) {
		t.Fatalf("err = %v, want ErrInputTooLarge", err)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name     string
		response string
		exit     int
		output   string
		failed   bool
		timedOut bool
	}{
		{"absent", ``, 0, "", false, false},
		{"string", `"file written"`, 0, "file written", false, false},
		{"bash ok", `{"stdout":"ok\n","stderr":"","exit_code":0}`, 0, "ok", false, false},
		{"bash failed", `{"stdout":"","stderr":"boom","exitCode":3}`, 3, "boom", true, false},
		{"timeout", `{"timed_out":true,"duration_ms":1500}`, 0, "", true, true},
		{"error flag", `{"is_error":true,"output":"denied"}`, 0, "denied", true, false},
		{"array", `[1,2]`, 0, "[1,2]", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &Input{ToolResponse: []byte(tt.response)}
			out := in.Outcome()
			if out.ExitCode != tt.exit || out.Output != tt.output || out.Failed() != tt.failed || out.TimedOut != tt.timedOut {
				t.Errorf("Outcome() = %+v", out)
			}
		})
	}

	in := &Input{ToolResponse: []byte(`{"timed_out":true,"duration_ms":1500}`)}
	if d := in.Outcome().Duration; d != 1500*time.Millisecond {
		t.Errorf("Duration = %v", d)
	}
}

func TestIteration(t *testing.T) {
	in := &Input{LastMessage: "done EXIT_SIGNAL", Loop: &LoopReport{Progress: true, ErrorSignature: "E1", Category: loop.CategoryTesting, ExitSignal: true}}
	it := in.Iteration()
	if !it.Progress || it.ErrorSignature != "E1" || it.Category != loop.CategoryTesting || !it.ExitSignal || it.LastMessage != "done EXIT_SIGNAL" {
		t.Errorf("Iteration() = %+v", it)
	}
	if it := (&Input{}).Iteration(); it.Progress || it.ExitSignal {
		t.Errorf("empty Iteration() = %+v", it)
	}
}

func TestFromDecisionAndWrite(t *testing.T) {
	tests := []struct {
		decision policy.Decision
		exit     int
		line     string
	}{
		{policy.Denied("no-root-wipe", "recursive delete"), ExitBlock, `{"decision":"deny","message":"recursive delete"}`},
		{policy.Approved("allow-ls", ""), ExitContinue, `{"decision":"approve"}`},
		{policy.Ask("confirm-push", "pushes"), ExitContinue, ``},
		{policy.Decision{}, ExitContinue, ``},
	}
	for _, tt := range tests {
		resp := FromDecision(tt.decision)
		if resp.ExitCode != tt.exit {
			t.Errorf("%v: exit = %d, want %d", tt.decision, resp.ExitCode, tt.exit)
		}
		var buf bytes.Buffer
		if err := Write(&buf, resp); err != nil {
			t.Fatal(err)
		}
		if got := strings.TrimSpace(buf.String()); got != tt.line {
			t.Errorf("%v: wrote %q, want %q", tt.decision, got, tt.line)
		}
	}

	var buf bytes.Buffer
	Write(&buf, Context("<skill-context id=\"tdd\">x</skill-context>")) //nolint:errcheck
	if !strings.Contains(buf.String(), `"additional_context":"<skill-context id=\"tdd\">x</skill-context>"`) {
		t.Errorf("HTML should not be escaped: %s", buf.String())
	}
}

func TestEventKey(t *testing.T) {
	tests := map[Event]string{
		EventSessionStart:     "session_start",
		EventUserPromptSubmit: "user_prompt_submit",
		EventPreToolUse:       "pre_tool_use",
		EventLoopIteration:    "loop_iteration",
		EventStop:             "stop",
	}
	for event, want := range tests {
		if got := event.Key(); got != want {
			t.Errorf("%s.Key() = %q, want %q", event, got, want)
		}
	}
}
