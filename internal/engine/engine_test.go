package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/hookguard/internal/artifacts"
	"github.com/haasonsaas/hookguard/internal/audit"
	"github.com/haasonsaas/hookguard/internal/config"
	"github.com/haasonsaas/hookguard/internal/gate"
	"github.com/haasonsaas/hookguard/internal/loop"
	"github.com/haasonsaas/hookguard/internal/observability"
	"github.com/haasonsaas/hookguard/internal/protocol"
	"github.com/haasonsaas/hookguard/internal/skills"
)

type stubCheck struct {
	name   string
	status gate.Status
	runs   int
}

func (c *stubCheck) Name() string { return c.name }

func (c *stubCheck) Run(context.Context) gate.CheckResult {
	c.runs++
	return gate.CheckResult{Name: c.name, Status: c.status, Details: c.name + " output"}
}

type memArtifacts struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (m *memArtifacts) Put(_ context.Context, name string, data io.Reader, _ artifacts.PutOptions) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = map[string][]byte{}
	}
	m.items[name] = b
	return "mem://" + name, nil
}

func (m *memArtifacts) Get(_ context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memArtifacts) Exists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[name]
	return ok, nil
}

func (m *memArtifacts) Close() error { return nil }

type harness struct {
	engine    *Engine
	audit     *bytes.Buffer
	metrics   *observability.Metrics
	store     *loop.MemoryStore
	artifacts *memArtifacts
}

func newHarness(t *testing.T, cfg *config.Config, opts ...Option) *harness {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.BaseDir = t.TempDir()
	h := &harness{
		audit:     &bytes.Buffer{},
		metrics:   observability.NewMetrics(),
		store:     loop.NewMemoryStore(),
		artifacts: &memArtifacts{},
	}
	base := []Option{
		WithAudit(audit.NewWriterLogger(audit.Config{Enabled: true}, h.audit)),
		WithMetrics(h.metrics),
		WithStore(h.store),
		WithArtifacts(h.artifacts),
		WithGetenv(func(string) string { return "" }),
	}
	e, err := New(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	h.engine = e
	return h
}

func (h *harness) handle(t *testing.T, in *protocol.Input) protocol.Response {
	t.Helper()
	if err := in.Validate(); err != nil {
		t.Fatalf("invalid input: %v", err)
	}
	return h.engine.Handle(context.Background(), in)
}

func bashInput(command string) *protocol.Input {
	return &protocol.Input{
		HookEventName: protocol.EventPreToolUse,
		SessionID:     "s1",
		ToolName:      "Bash",
		ToolInput:     map[string]any{"command": command},
	}
}

func TestRootWipeIsBlocked(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.handle(t, bashInput("rm -rf /"))
	if resp.ExitCode != protocol.ExitBlock || resp.Output.Decision != protocol.DecisionDeny {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Output.Message == "" {
		t.Error("deny must carry a reason")
	}
	if got := testutil.ToFloat64(h.metrics.Events.WithLabelValues("pre_tool_use", "2")); got != 1 {
		t.Errorf("blocked events = %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.Decisions.WithLabelValues("bash", "deny")); got != 1 {
		t.Errorf("deny decisions = %v", got)
	}
	if !strings.Contains(h.audit.String(), `"decision":"deny"`) {
		t.Errorf("decision not audited:\n%s", h.audit.String())
	}
}

func TestPreToolUseDecisions(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name     string
		in       *protocol.Input
		exit     int
		decision string
	}{
		{"allow listed", bashInput("git status"), protocol.ExitContinue, protocol.DecisionApprove},
		{"ask defers to host", bashInput("git push origin main"), protocol.ExitContinue, ""},
		{"compound defers to host", bashInput("git status && ls"), protocol.ExitContinue, ""},
		{"unknown command", bashInput("make build"), protocol.ExitContinue, ""},
		{"wrapped wipe", bashInput("sudo rm -fr /"), protocol.ExitBlock, protocol.DecisionDeny},
		{"bad commit message", bashInput("git commit -m 'fix $(whoami)'"), protocol.ExitBlock, protocol.DecisionDeny},
		{"protected file", &protocol.Input{
			HookEventName: protocol.EventPreToolUse,
			SessionID:     "s1",
			ToolName:      "Write",
			ToolInput:     map[string]any{"file_path": ".env", "content": "X=1"},
		}, protocol.ExitBlock, protocol.DecisionDeny},
		{"traversal", &protocol.Input{
			HookEventName: protocol.EventPreToolUse,
			SessionID:     "s1",
			ToolName:      "Edit",
			ToolInput:     map[string]any{"file_path": "../../etc/passwd"},
		}, protocol.ExitBlock, protocol.DecisionDeny},
		{"read is not guarded", &protocol.Input{
			HookEventName: protocol.EventPreToolUse,
			SessionID:     "s1",
			ToolName:      "Read",
			ToolInput:     map[string]any{"file_path": ".env"},
		}, protocol.ExitContinue, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.handle(t, tt.in)
			if resp.ExitCode != tt.exit || resp.Output.Decision != tt.decision {
				t.Errorf("response = %+v, want exit %d decision %q", resp, tt.exit, tt.decision)
			}
		})
	}
}

func TestPromptSubmitInjectsOrderedSkills(t *testing.T) {
	cfg := config.Default()
	cfg.Triggers = []skills.TriggerSpec{
		{Skill: "testing-patterns", Patterns: []string{`/\btest/`}, Priority: 2, Content: "Arrange, act, assert."},
		{Skill: "tdd", Patterns: []string{`/\btdd\b/`, "test-driven"}, Priority: 1, Content: "Red, green, refactor."},
	}
	h := newHarness(t, cfg)

	resp := h.handle(t, &protocol.Input{
		HookEventName: protocol.EventUserPromptSubmit,
		SessionID:     "s1",
		Prompt:        "let's do test-driven development",
	})
	text := resp.Output.AdditionalContext
	first := strings.Index(text, `<skill-context id="tdd">`)
	second := strings.Index(text, `<skill-context id="testing-patterns">`)
	if first < 0 || second < 0 || first > second {
		t.Fatalf("unexpected bundle:\n%s", text)
	}
	if !strings.Contains(h.audit.String(), `"type":"context"`) {
		t.Error("injection not audited")
	}

	resp = h.handle(t, &protocol.Input{HookEventName: protocol.EventUserPromptSubmit, SessionID: "s1", Prompt: "rename a variable"})
	if !resp.Output.Empty() || resp.ExitCode != protocol.ExitContinue {
		t.Errorf("unmatched prompt response = %+v", resp)
	}
}

func TestStopGateModes(t *testing.T) {
	stop := &protocol.Input{HookEventName: protocol.EventStop, SessionID: "s1"}

	t.Run("advisory failure completes with warnings", func(t *testing.T) {
		check := &stubCheck{name: "tests", status: gate.StatusFailed}
		h := newHarness(t, nil, WithChecks(check))
		resp := h.handle(t, stop)
		if resp.ExitCode != protocol.ExitContinue || !resp.Output.Empty() {
			t.Fatalf("response = %+v", resp)
		}
		if len(resp.Warnings) != 1 || !strings.Contains(resp.Warnings[0], "tests output") {
			t.Errorf("warnings = %v", resp.Warnings)
		}
	})

	t.Run("strict failure blocks", func(t *testing.T) {
		cfg := config.Default()
		cfg.Gate.Mode = gate.ModeStrict
		check := &stubCheck{name: "tests", status: gate.StatusFailed}
		h := newHarness(t, cfg, WithChecks(check))
		resp := h.handle(t, stop)
		if resp.ExitCode != protocol.ExitBlock || !strings.Contains(resp.Output.Message, "[tests] failed") {
			t.Fatalf("response = %+v", resp)
		}
		if got := testutil.ToFloat64(h.metrics.GateChecks.WithLabelValues("tests", "failed")); got != 1 {
			t.Errorf("failed checks = %v", got)
		}
	})

	t.Run("env overrides config", func(t *testing.T) {
		check := &stubCheck{name: "lint", status: gate.StatusFailed}
		env := func(k string) string {
			if k == gate.EnvStrict {
				return "1"
			}
			return ""
		}
		h := newHarness(t, nil, WithChecks(check), WithGetenv(env))
		if resp := h.handle(t, stop); resp.ExitCode != protocol.ExitBlock {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("skipped checks never block", func(t *testing.T) {
		cfg := config.Default()
		cfg.Gate.Mode = gate.ModeStrict
		h := newHarness(t, cfg, WithChecks(&stubCheck{name: "vet", status: gate.StatusSkipped}))
		if resp := h.handle(t, stop); resp.ExitCode != protocol.ExitContinue {
			t.Errorf("response = %+v", resp)
		}
	})
}

func iterationInput(progress bool) *protocol.Input {
	return &protocol.Input{
		HookEventName: protocol.EventLoopIteration,
		SessionID:     "loop-1",
		Loop:          &protocol.LoopReport{Progress: progress, Category: loop.CategoryImplementation},
	}
}

func TestLoopHaltsAfterThreeIdleIterations(t *testing.T) {
	h := newHarness(t, nil, WithClock(func() time.Time { return time.Unix(1700000000, 0) }))

	for i := 1; i <= 2; i++ {
		if resp := h.handle(t, iterationInput(false)); resp.ExitCode != protocol.ExitContinue {
			t.Fatalf("iteration %d: response = %+v", i, resp)
		}
	}
	st, err := h.store.Load(context.Background(), "loop-1")
	if err != nil || st.Breaker != loop.StateHalfOpen {
		t.Fatalf("after two idle iterations: %+v, %v", st, err)
	}

	resp := h.handle(t, iterationInput(false))
	if resp.ExitCode != protocol.ExitBlock || !strings.Contains(resp.Output.Message, "no_progress") {
		t.Fatalf("third iteration response = %+v", resp)
	}
	if ok, _ := h.artifacts.Exists(context.Background(), "halts/loop-1-1700000000.json"); !ok {
		t.Errorf("halt report not saved: %v", h.artifacts.items)
	}

	// Open is terminal until a human resets it.
	resp = h.handle(t, iterationInput(true))
	if resp.ExitCode != protocol.ExitBlock {
		t.Errorf("open breaker response = %+v", resp)
	}
	if len(h.artifacts.items) != 1 {
		t.Errorf("halt report saved again: %d", len(h.artifacts.items))
	}

	if _, err := loop.ResetSession(context.Background(), h.store, "loop-1"); err != nil {
		t.Fatal(err)
	}
	if resp := h.handle(t, iterationInput(true)); resp.ExitCode != protocol.ExitContinue {
		t.Errorf("after reset response = %+v", resp)
	}
}

func TestLoopExitNeedsGateAndSignal(t *testing.T) {
	check := &stubCheck{name: "tests", status: gate.StatusFailed}
	h := newHarness(t, nil, WithChecks(check))

	in := iterationInput(true)
	in.Loop.ExitSignal = true
	if resp := h.handle(t, in); resp.ExitCode != protocol.ExitContinue || !resp.Output.Empty() {
		t.Fatalf("signal with red gate: response = %+v", resp)
	}
	st, _ := h.store.Load(context.Background(), "loop-1")
	if st.Iterations != 1 || check.runs != 1 {
		t.Fatalf("state = %+v, gate runs = %d", st, check.runs)
	}

	// No exit requested: the gate is not consulted.
	if resp := h.handle(t, iterationInput(true)); !resp.Output.Empty() {
		t.Errorf("plain iteration: response = %+v", resp)
	}
	if check.runs != 1 {
		t.Errorf("gate ran without an exit request")
	}

	check.status = gate.StatusPassed
	in = iterationInput(true)
	in.LastMessage = "all done " + loop.DefaultConfig().ExitSentinel
	resp := h.handle(t, in)
	if resp.ExitCode != protocol.ExitContinue || resp.Output.Decision != protocol.DecisionApprove {
		t.Fatalf("granted exit: response = %+v", resp)
	}
	if !strings.Contains(h.audit.String(), `"decision":"exit"`) {
		t.Errorf("exit not audited:\n%s", h.audit.String())
	}
	if _, err := h.store.Load(context.Background(), "loop-1"); !errors.Is(err, loop.ErrNotFound) {
		t.Errorf("loop state kept after exit: %v", err)
	}
}

func TestStopInLoopNeedsBothExitHalves(t *testing.T) {
	tests := []struct {
		name    string
		status  gate.Status
		signal  bool
		code    int
		missing string
	}{
		{"green gate without signal", gate.StatusPassed, false, protocol.ExitBlock, "no exit signal"},
		{"signal with red advisory gate", gate.StatusFailed, true, protocol.ExitBlock, "completion gate has not passed"},
		{"signal with green gate", gate.StatusPassed, true, protocol.ExitContinue, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, WithChecks(&stubCheck{name: "tests", status: tt.status}))
			resp := h.handle(t, &protocol.Input{
				HookEventName: protocol.EventStop,
				SessionID:     "loop-stop",
				Loop:          &protocol.LoopReport{Progress: true, Category: loop.CategoryImplementation, ExitSignal: tt.signal},
			})
			if resp.ExitCode != tt.code {
				t.Fatalf("exit code = %d, want %d (%+v)", resp.ExitCode, tt.code, resp)
			}
			if tt.missing == "" {
				if resp.Output.Decision != protocol.DecisionApprove {
					t.Errorf("decision = %q, want approve", resp.Output.Decision)
				}
				return
			}
			if resp.Output.Decision != protocol.DecisionDeny || !strings.Contains(resp.Output.Message, tt.missing) {
				t.Errorf("output = %+v, want deny naming %q", resp.Output, tt.missing)
			}
		})
	}
}

func TestLoopIterationWireDiffersForExit(t *testing.T) {
	h := newHarness(t, nil, WithChecks(&stubCheck{name: "tests", status: gate.StatusPassed}))

	var buf bytes.Buffer
	if err := protocol.Write(&buf, h.handle(t, iterationInput(true))); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("continuing iteration wrote %q", buf.String())
	}

	in := iterationInput(true)
	in.Loop.ExitSignal = true
	buf.Reset()
	if err := protocol.Write(&buf, h.handle(t, in)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"decision":"approve"`) {
		t.Errorf("exit wrote %q", buf.String())
	}
}

func TestStopRecordsLoopReport(t *testing.T) {
	h := newHarness(t, nil)
	in := &protocol.Input{
		HookEventName: protocol.EventStop,
		SessionID:     "loop-2",
		Loop:          &protocol.LoopReport{Progress: true, FilesChanged: []string{"internal/x/x_test.go"}},
	}
	for i := 0; i < 3; i++ {
		h.handle(t, in)
	}
	st, err := h.store.Load(context.Background(), "loop-2")
	if err != nil {
		t.Fatal(err)
	}
	if st.Breaker != loop.StateOpen || st.TripReason != loop.TripTestOnly {
		t.Errorf("state = %+v", st)
	}
}

func TestPostToolUseTimeoutCountsOnlyForLoops(t *testing.T) {
	h := newHarness(t, nil)
	timedOut := func(session string) *protocol.Input {
		return &protocol.Input{
			HookEventName: protocol.EventPostToolUse,
			SessionID:     session,
			ToolName:      "Bash",
			ToolInput:     map[string]any{"command": "go test ./..."},
			ToolResponse:  []byte(`{"timed_out":true}`),
		}
	}

	h.handle(t, timedOut("plain"))
	if _, err := h.store.Load(context.Background(), "plain"); !errors.Is(err, loop.ErrNotFound) {
		t.Errorf("session without a loop got state: %v", err)
	}

	h.handle(t, iterationInput(true))
	resp := h.handle(t, timedOut("loop-1"))
	if resp.ExitCode != protocol.ExitContinue {
		t.Errorf("response = %+v", resp)
	}
	st, _ := h.store.Load(context.Background(), "loop-1")
	if st.ErrorSignature != loop.TimeoutSignature("Bash") || st.ErrorCount != 1 {
		t.Errorf("state = %+v", st)
	}
}

func TestPostToolUseAudited(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.handle(t, &protocol.Input{
		HookEventName: protocol.EventPostToolUse,
		SessionID:     "s1",
		ToolName:      "Bash",
		ToolInput:     map[string]any{"command": "ls"},
		ToolResponse:  []byte(`{"stdout":"a\nb","exit_code":0}`),
	})
	if resp.ExitCode != protocol.ExitContinue || !resp.Output.Empty() {
		t.Errorf("response = %+v", resp)
	}
	if !strings.Contains(h.audit.String(), `"type":"outcome"`) {
		t.Errorf("outcome not audited:\n%s", h.audit.String())
	}
}

func TestSessionStart(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.handle(t, &protocol.Input{HookEventName: protocol.EventSessionStart, SessionID: "s1", Cwd: "/repo"})
	if resp.ExitCode != protocol.ExitContinue || !resp.Output.Empty() {
		t.Errorf("response = %+v", resp)
	}
	if got := testutil.ToFloat64(h.metrics.Events.WithLabelValues("session_start", "0")); got != 1 {
		t.Errorf("session events = %v", got)
	}
}

func TestNewRejectsNilConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error")
	}
}
