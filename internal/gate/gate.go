// Package gate runs verification checks when the agent tries to finish a
// turn and decides whether the turn may complete.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/hookguard/internal/format"
)

// EnvStrict overrides the configured mode at process start.
const EnvStrict = "HOOKGUARD_STRICT"

// Status is the result of a single check.
type Status int

const (
	StatusPassed Status = iota
	StatusFailed
	// StatusSkipped means the check could not run. It never fails the gate.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Mode selects what a failing gate does to the turn.
type Mode string

const (
	ModeAdvisory Mode = "advisory"
	ModeStrict   Mode = "strict"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAdvisory || m == ModeStrict
}

// ResolveMode applies the HOOKGUARD_STRICT override to the configured mode.
// Unrecognized override values are ignored.
func ResolveMode(configured Mode, getenv func(string) string) Mode {
	if !configured.Valid() {
		configured = ModeAdvisory
	}
	if getenv == nil {
		return configured
	}
	raw := strings.TrimSpace(getenv(EnvStrict))
	if raw == "" {
		return configured
	}
	switch strings.ToLower(raw) {
	case "yes", "on":
		return ModeStrict
	case "no", "off":
		return ModeAdvisory
	}
	if strict, err := strconv.ParseBool(raw); err == nil {
		if strict {
			return ModeStrict
		}
		return ModeAdvisory
	}
	return configured
}

// Verdict is the effect of a gate run on the turn.
type Verdict string

const (
	VerdictComplete             Verdict = "complete"
	VerdictCompleteWithWarnings Verdict = "complete_with_warnings"
	VerdictBlocked              Verdict = "blocked"
)

// Check is one verification step.
type Check interface {
	Name() string
	Run(ctx context.Context) CheckResult
}

// CheckResult records what a check observed.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"-"`
	State    string        `json:"status"`
	ExitCode int           `json:"exit_code,omitempty"`
	Details  string        `json:"details,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of a gate run.
type Report struct {
	Mode    Mode          `json:"mode"`
	Passed  bool          `json:"passed"`
	Verdict Verdict       `json:"verdict"`
	Results []CheckResult `json:"results"`
}

// Failed returns the results that failed.
func (r *Report) Failed() []CheckResult {
	var out []CheckResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Summary is a human-readable account of the run, suitable as a message to
// the agent.
func (r *Report) Summary() string {
	var passed, skipped int
	for _, res := range r.Results {
		switch res.Status {
		case StatusPassed:
			passed++
		case StatusSkipped:
			skipped++
		}
	}
	failed := r.Failed()

	var b strings.Builder
	fmt.Fprintf(&b, "completion gate (%s): %s passed, %d failed, %d skipped",
		r.Mode, format.Plural(passed, "check"), len(failed), skipped)
	for _, res := range failed {
		fmt.Fprintf(&b, "\n\n[%s] failed after %s", res.Name, format.Duration(res.Duration))
		if res.Details != "" {
			b.WriteString("\n")
			b.WriteString(res.Details)
		}
	}
	return b.String()
}

// Observer receives per-check results for metrics.
type Observer interface {
	ObserveCheck(name string, status Status, d time.Duration)
}

// Gate runs an ordered list of checks.
type Gate struct {
	checks   []Check
	mode     Mode
	observer Observer
	logger   *slog.Logger
}

// New creates a gate. The mode should already include any env override.
func New(mode Mode, checks []Check, observer Observer, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if !mode.Valid() {
		mode = ModeAdvisory
	}
	return &Gate{
		checks:   append([]Check(nil), checks...),
		mode:     mode,
		observer: observer,
		logger:   logger.With("component", "gate"),
	}
}

// Mode returns the gate's mode.
func (g *Gate) Mode() Mode { return g.mode }

// Len returns the number of configured checks.
func (g *Gate) Len() int { return len(g.checks) }

// Run executes every check in order. The gate passes iff no runnable check
// failed.
func (g *Gate) Run(ctx context.Context) *Report {
	report := &Report{Mode: g.mode, Passed: true}
	for _, check := range g.checks {
		res := check.Run(ctx)
		if res.Name == "" {
			res.Name = check.Name()
		}
		res.State = res.Status.String()
		report.Results = append(report.Results, res)

		if g.observer != nil {
			g.observer.ObserveCheck(res.Name, res.Status, res.Duration)
		}
		switch res.Status {
		case StatusFailed:
			report.Passed = false
			g.logger.Warn("check failed", "check", res.Name, "exit_code", res.ExitCode, "duration", format.Duration(res.Duration))
		case StatusSkipped:
			g.logger.Info("check skipped", "check", res.Name, "reason", res.Details)
		default:
			g.logger.Debug("check passed", "check", res.Name, "duration", format.Duration(res.Duration))
		}
	}

	switch {
	case report.Passed:
		report.Verdict = VerdictComplete
	case g.mode == ModeStrict:
		report.Verdict = VerdictBlocked
	default:
		report.Verdict = VerdictCompleteWithWarnings
	}
	return report
}
