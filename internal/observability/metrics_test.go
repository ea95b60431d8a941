package observability

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/hookguard/internal/gate"
	"github.com/haasonsaas/hookguard/internal/hooks"
	"github.com/haasonsaas/hookguard/internal/loop"
	"github.com/haasonsaas/hookguard/internal/policy"
)

func TestMetricsObservers(t *testing.T) {
	m := NewMetrics()
	call := &hooks.Call{Invocation: policy.Invocation{ToolName: "Bash"}}

	m.ObserveDecision(call, policy.Denied("deny-rm", "no"))
	m.ObserveDecision(call, policy.Denied("deny-rm", "no"))
	m.ObserveDecision(call, policy.Approved("allow-ls", ""))
	m.ObserveHookFailure("post", "formatter")
	m.ObserveCheck("tests", gate.StatusFailed, 1500*time.Millisecond)
	m.ObserveBreaker("s", loop.StateClosed, loop.StateHalfOpen)
	m.RecordEvent("pre_tool_use", 2)

	if got := testutil.ToFloat64(m.Decisions.WithLabelValues("bash", "deny")); got != 2 {
		t.Errorf("deny decisions = %v", got)
	}
	if got := testutil.CollectAndCount(m.Decisions); got != 2 {
		t.Errorf("decision series = %d", got)
	}
	if got := testutil.ToFloat64(m.GateCheckSeconds.WithLabelValues("tests")); got != 1.5 {
		t.Errorf("gate seconds = %v", got)
	}

	expected := `
		# HELP hookguard_breaker_transitions_total Loop circuit breaker state transitions
		# TYPE hookguard_breaker_transitions_total counter
		hookguard_breaker_transitions_total{from="closed",to="half-open"} 1
	`
	if err := testutil.CollectAndCompare(m.BreakerTransitions, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric: %v", err)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordEvent("stop", 0)
	m.ObserveHookFailure("pre", "x")
	m.ObserveBreaker("s", loop.StateClosed, loop.StateOpen)
}

func TestTextfileAccumulates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookguard.prom")

	if err := NewMetrics().LoadTextfile(path); err != nil {
		t.Fatalf("LoadTextfile(missing) error: %v", err)
	}

	for i := 0; i < 3; i++ {
		m := NewMetrics()
		if err := m.LoadTextfile(path); err != nil {
			t.Fatalf("LoadTextfile() error: %v", err)
		}
		m.RecordEvent("stop", 0)
		if err := m.WriteTextfile(path); err != nil {
			t.Fatalf("WriteTextfile() error: %v", err)
		}
	}

	m := NewMetrics()
	if err := m.LoadTextfile(path); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.Events.WithLabelValues("stop", "0")); got != 3 {
		t.Errorf("events after three processes = %v, want 3", got)
	}
}
