package observability

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"github.com/haasonsaas/hookguard/internal/gate"
	"github.com/haasonsaas/hookguard/internal/hooks"
	"github.com/haasonsaas/hookguard/internal/loop"
	"github.com/haasonsaas/hookguard/internal/policy"
)

// Metrics collects hookguard counters on a private registry.
//
// A hook process lives for one lifecycle event, so counters are seeded from
// the previous textfile on startup (LoadTextfile) and written back on exit
// (WriteTextfile). Concurrent hook processes may lose increments to each
// other; the file itself is replaced atomically.
//
// Usage:
//
//	m := observability.NewMetrics()
//	_ = m.LoadTextfile(path)
//	pipeline := hooks.NewPipeline(hooks.WithObserver(m))
//	defer m.WriteTextfile(path)
type Metrics struct {
	registry *prometheus.Registry

	// Events counts lifecycle events.
	// Labels: event (session_start|user_prompt_submit|pre_tool_use|...), exit_code
	Events *prometheus.CounterVec

	// Decisions counts pre-check decisions.
	// Labels: tool, decision (approve|deny|ask|no_opinion)
	Decisions *prometheus.CounterVec

	// HookFailures counts hooks that errored or panicked.
	// Labels: stage (pre|post), hook
	HookFailures *prometheus.CounterVec

	// GateChecks counts completion gate checks.
	// Labels: check, status (passed|failed|skipped)
	GateChecks *prometheus.CounterVec

	// GateCheckSeconds accumulates check run time.
	// Labels: check
	GateCheckSeconds *prometheus.CounterVec

	// BreakerTransitions counts loop breaker state changes.
	// Labels: from, to
	BreakerTransitions *prometheus.CounterVec

	counters map[string]*prometheus.CounterVec
}

var (
	_ hooks.Observer = (*Metrics)(nil)
	_ gate.Observer  = (*Metrics)(nil)
)

// NewMetrics creates the counters and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookguard_events_total",
			Help: "Lifecycle events processed by event name and exit code",
		}, []string{"event", "exit_code"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookguard_decisions_total",
			Help: "Pre-check decisions by tool and outcome",
		}, []string{"tool", "decision"}),
		HookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookguard_hook_failures_total",
			Help: "Hooks that returned an error or panicked",
		}, []string{"stage", "hook"}),
		GateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookguard_gate_checks_total",
			Help: "Completion gate checks by status",
		}, []string{"check", "status"}),
		GateCheckSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookguard_gate_check_seconds_total",
			Help: "Total time spent running completion gate checks",
		}, []string{"check"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookguard_breaker_transitions_total",
			Help: "Loop circuit breaker state transitions",
		}, []string{"from", "to"}),
	}
	m.counters = map[string]*prometheus.CounterVec{
		"hookguard_events_total":              m.Events,
		"hookguard_decisions_total":           m.Decisions,
		"hookguard_hook_failures_total":       m.HookFailures,
		"hookguard_gate_checks_total":         m.GateChecks,
		"hookguard_gate_check_seconds_total":  m.GateCheckSeconds,
		"hookguard_breaker_transitions_total": m.BreakerTransitions,
	}
	for _, c := range m.counters {
		m.registry.MustRegister(c)
	}
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordEvent counts one processed lifecycle event.
func (m *Metrics) RecordEvent(event string, exitCode int) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(event, fmt.Sprint(exitCode)).Inc()
}

// ObserveDecision implements hooks.Observer.
func (m *Metrics) ObserveDecision(call *hooks.Call, decision policy.Decision) {
	if m == nil || call == nil {
		return
	}
	m.Decisions.WithLabelValues(call.Invocation.Tool(), decision.Kind.String()).Inc()
}

// ObserveHookFailure implements hooks.Observer.
func (m *Metrics) ObserveHookFailure(stage, hook string) {
	if m == nil {
		return
	}
	m.HookFailures.WithLabelValues(stage, hook).Inc()
}

// ObserveCheck implements gate.Observer.
func (m *Metrics) ObserveCheck(name string, status gate.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.GateChecks.WithLabelValues(name, status.String()).Inc()
	m.GateCheckSeconds.WithLabelValues(name).Add(d.Seconds())
}

// ObserveBreaker matches loop.WithStateChange.
func (m *Metrics) ObserveBreaker(_ string, from, to loop.BreakerState) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// LoadTextfile seeds counters from a file previously written by
// WriteTextfile. A missing file is not an error.
func (m *Metrics) LoadTextfile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open metrics textfile: %w", err)
	}
	defer f.Close()

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("parse metrics textfile: %w", err)
	}
	for name, family := range families {
		counter, ok := m.counters[name]
		if !ok {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := prometheus.Labels{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			c, err := counter.GetMetricWith(labels)
			if err != nil {
				continue
			}
			if v := metric.GetCounter().GetValue(); v > 0 {
				c.Add(v)
			}
		}
	}
	return nil
}

// WriteTextfile writes every counter in the textfile-collector format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
