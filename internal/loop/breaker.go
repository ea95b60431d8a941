// Package loop decides whether an autonomous agent loop may continue, must
// exit, or has to halt for a human.
//
// The controller is a circuit breaker over three stall streaks: iterations
// without progress, repetitions of the same error, and iterations that only
// touched tests. Open is terminal until an explicit reset.
package loop

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// BreakerState is the state of the loop breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateHalfOpen BreakerState = "half-open"
	StateOpen     BreakerState = "open"
)

// Category classifies what an iteration worked on.
type Category string

const (
	CategoryImplementation Category = "implementation"
	CategoryTesting        Category = "testing"
	CategoryDocumentation  Category = "documentation"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryImplementation, CategoryTesting, CategoryDocumentation:
		return true
	}
	return false
}

// ErrBreakerOpen is returned for any iteration recorded against an open
// breaker.
var ErrBreakerOpen = errors.New("loop breaker is open")

// DefaultExitSentinel marks an explicit exit in the agent's last message.
const DefaultExitSentinel = "EXIT_SIGNAL"

// Thresholds are streak lengths for each stall kind.
type Thresholds struct {
	NoProgress int `yaml:"no_progress" json:"no_progress"`
	SameError  int `yaml:"same_error" json:"same_error"`
	TestOnly   int `yaml:"test_only" json:"test_only"`
}

// Config configures the controller.
type Config struct {
	// Hard thresholds open the breaker.
	Hard Thresholds `yaml:"hard" json:"hard"`
	// Soft thresholds move it to half-open.
	Soft         Thresholds `yaml:"soft" json:"soft"`
	ExitSentinel string     `yaml:"exit_sentinel" json:"exit_sentinel"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Hard:         Thresholds{NoProgress: 3, SameError: 5, TestOnly: 3},
		Soft:         Thresholds{NoProgress: 2, SameError: 3, TestOnly: 2},
		ExitSentinel: DefaultExitSentinel,
	}
}

// Validate checks that each soft threshold is positive and below its hard
// counterpart.
func (c Config) Validate() error {
	pairs := []struct {
		name       string
		soft, hard int
	}{
		{"no_progress", c.Soft.NoProgress, c.Hard.NoProgress},
		{"same_error", c.Soft.SameError, c.Hard.SameError},
		{"test_only", c.Soft.TestOnly, c.Hard.TestOnly},
	}
	for _, p := range pairs {
		if p.hard <= 0 {
			return fmt.Errorf("loop: hard %s threshold must be positive", p.name)
		}
		if p.soft <= 0 || p.soft >= p.hard {
			return fmt.Errorf("loop: soft %s threshold must be between 1 and %d", p.name, p.hard-1)
		}
	}
	return nil
}

// Iteration is what one loop iteration reports.
type Iteration struct {
	Progress       bool     `json:"progress"`
	ErrorSignature string   `json:"error_signature,omitempty"`
	Category       Category `json:"category,omitempty"`
	ExitSignal     bool     `json:"exit_signal,omitempty"`
	LastMessage    string   `json:"-"`
}

// TimeoutSignature is the error signature recorded for an executor timeout.
func TimeoutSignature(tool string) string {
	return "timeout:" + strings.ToLower(strings.TrimSpace(tool))
}

// State is the persisted per-session loop state.
type State struct {
	SessionID             string       `json:"session_id"`
	Breaker               BreakerState `json:"breaker"`
	Iterations            int          `json:"iterations"`
	ConsecutiveNoProgress int          `json:"consecutive_no_progress"`
	ErrorSignature        string       `json:"error_signature,omitempty"`
	ErrorCount            int          `json:"error_count"`
	ConsecutiveTestOnly   int          `json:"consecutive_test_only"`
	TripReason            string       `json:"trip_reason,omitempty"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// NewState returns a closed breaker for session.
func NewState(sessionID string) State {
	return State{SessionID: sessionID, Breaker: StateClosed}
}

// Action is the controller's verdict for an iteration.
type Action string

const (
	ActionContinue Action = "continue"
	ActionExit     Action = "exit"
	ActionHalt     Action = "halt"
)

// Step is the result of recording one iteration.
type Step struct {
	Action Action       `json:"action"`
	From   BreakerState `json:"from"`
	State  State        `json:"state"`
	Report *HaltReport  `json:"report,omitempty"`
}

// Controller applies the breaker rules. It holds no per-session state.
type Controller struct {
	cfg           Config
	logger        *slog.Logger
	now           func() time.Time
	onStateChange func(sessionID string, from, to BreakerState)
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithStateChange registers a callback for breaker transitions.
func WithStateChange(fn func(sessionID string, from, to BreakerState)) ControllerOption {
	return func(c *Controller) { c.onStateChange = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// NewController validates cfg and creates a controller.
func NewController(cfg Config, logger *slog.Logger, opts ...ControllerOption) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ExitSentinel == "" {
		cfg.ExitSentinel = DefaultExitSentinel
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{cfg: cfg, logger: logger.With("component", "loop"), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.cfg }

// Advance applies one iteration to st. An open breaker is never advanced:
// Advance returns ErrBreakerOpen together with the halt report.
//
// The exit condition is checked first and requires both a passing gate and
// an explicit exit signal.
func (c *Controller) Advance(st State, it Iteration, gatePassed bool) (Step, error) {
	if st.Breaker == "" {
		st.Breaker = StateClosed
	}
	from := st.Breaker
	if st.Breaker == StateOpen {
		return Step{Action: ActionHalt, From: from, State: st, Report: NewHaltReport(st)}, ErrBreakerOpen
	}

	st.Iterations++
	st.UpdatedAt = c.now()

	if gatePassed && c.ExitRequested(it) {
		c.logger.Info("loop exit", "session_id", st.SessionID, "iterations", st.Iterations)
		return Step{Action: ActionExit, From: from, State: st}, nil
	}

	if it.Progress {
		st.ConsecutiveNoProgress = 0
	} else {
		st.ConsecutiveNoProgress++
	}

	switch sig := strings.TrimSpace(it.ErrorSignature); {
	case sig == "":
		st.ErrorSignature, st.ErrorCount = "", 0
	case sig == st.ErrorSignature:
		st.ErrorCount++
	default:
		st.ErrorSignature, st.ErrorCount = sig, 1
	}

	if it.Category == CategoryTesting {
		st.ConsecutiveTestOnly++
	} else {
		st.ConsecutiveTestOnly = 0
	}

	if reason := c.tripReason(st); reason != "" {
		st.Breaker = StateOpen
		st.TripReason = reason
		c.transition(st.SessionID, from, StateOpen)
		report := NewHaltReport(st)
		c.logger.Warn("loop breaker opened", "session_id", st.SessionID, "reason", reason, "iterations", st.Iterations)
		return Step{Action: ActionHalt, From: from, State: st, Report: report}, nil
	}

	switch {
	case c.nearThreshold(st):
		st.Breaker = StateHalfOpen
	case st.Breaker == StateHalfOpen && streaksBroken(st):
		st.Breaker = StateClosed
	}
	if st.Breaker != from {
		c.transition(st.SessionID, from, st.Breaker)
	}
	return Step{Action: ActionContinue, From: from, State: st}, nil
}

// ExitRequested reports whether the iteration carries an explicit exit
// signal, either the flag or the sentinel in the last message.
func (c *Controller) ExitRequested(it Iteration) bool {
	return it.ExitSignal || (c.cfg.ExitSentinel != "" && strings.Contains(it.LastMessage, c.cfg.ExitSentinel))
}

// Trip reasons, in priority order.
const (
	TripNoProgress = "no_progress"
	TripSameError  = "repeated_error"
	TripTestOnly   = "test_only"
)

func (c *Controller) tripReason(st State) string {
	switch {
	case st.ConsecutiveNoProgress >= c.cfg.Hard.NoProgress:
		return TripNoProgress
	case st.ErrorCount >= c.cfg.Hard.SameError:
		return TripSameError
	case st.ConsecutiveTestOnly >= c.cfg.Hard.TestOnly:
		return TripTestOnly
	}
	return ""
}

func (c *Controller) nearThreshold(st State) bool {
	return st.ConsecutiveNoProgress >= c.cfg.Soft.NoProgress ||
		st.ErrorCount >= c.cfg.Soft.SameError ||
		st.ConsecutiveTestOnly >= c.cfg.Soft.TestOnly
}

// streaksBroken reports whether the latest iteration ended every streak. A
// first occurrence of a new error does not count as a streak.
func streaksBroken(st State) bool {
	return st.ConsecutiveNoProgress == 0 && st.ConsecutiveTestOnly == 0 && st.ErrorCount <= 1
}

func (c *Controller) transition(sessionID string, from, to BreakerState) {
	c.logger.Info("loop breaker transition", "session_id", sessionID, "from", from, "to", to)
	if c.onStateChange != nil {
		c.onStateChange(sessionID, from, to)
	}
}

// Reset returns a closed state for the session. It is the only way out of
// StateOpen.
func Reset(sessionID string) State {
	return NewState(sessionID)
}
