// Package hooks runs proposed tool invocations through ordered pre-hooks,
// the host executor and post-hooks.
//
// Pre-hooks classify an invocation; a Deny from any of them blocks it before
// the executor is reached. Post-hooks observe the outcome and can never change
// it: their errors and panics are reported as warnings.
package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/hookguard/internal/policy"
)

// Priority determines the order hooks are called.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// State is the lifecycle position of a single invocation.
type State int

const (
	StateProposed State = iota
	StatePreChecked
	StateExecuted
	StateBlocked
	StateAwaitingConfirmation
)

func (s State) String() string {
	switch s {
	case StateProposed:
		return "proposed"
	case StatePreChecked:
		return "pre_checked"
	case StateExecuted:
		return "executed"
	case StateBlocked:
		return "blocked"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateExecuted || s == StateBlocked
}

// Outcome is what the executor observed. Post-hooks read it; nothing in this
// package modifies it after the executor returns.
type Outcome struct {
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Err      error         `json:"-"`
	ErrorMsg string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Failed reports whether the tool call did not succeed.
func (o Outcome) Failed() bool {
	return o.Err != nil || o.ErrorMsg != "" || o.ExitCode != 0 || o.TimedOut
}

// Call carries one invocation through the pipeline.
type Call struct {
	ID         string
	SessionID  string
	Cwd        string
	Invocation policy.Invocation
}

// PreHook classifies a call. Returning an error is treated as Deny.
type PreHook func(ctx context.Context, call *Call) (policy.Decision, error)

// PostHook observes a completed call.
type PostHook func(ctx context.Context, call *Call, outcome Outcome) error

// Executor runs an approved call. Timeouts are reported through Outcome.
type Executor interface {
	Execute(ctx context.Context, call *Call) Outcome
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, call *Call) Outcome

func (f ExecutorFunc) Execute(ctx context.Context, call *Call) Outcome {
	return f(ctx, call)
}

// Confirmer asks a human about a call that was not approved outright. It
// blocks until an answer arrives; any error counts as a denial.
type Confirmer interface {
	Confirm(ctx context.Context, call *Call, decision policy.Decision) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, call *Call, decision policy.Decision) (bool, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, call *Call, decision policy.Decision) (bool, error) {
	return f(ctx, call, decision)
}

// Observer receives pipeline events for metrics and auditing.
type Observer interface {
	ObserveDecision(call *Call, decision policy.Decision)
	ObserveHookFailure(stage, hook string)
}

// Observers fans events out to several observers. Nil entries are skipped.
type Observers []Observer

func (o Observers) ObserveDecision(call *Call, decision policy.Decision) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveDecision(call, decision)
		}
	}
}

func (o Observers) ObserveHookFailure(stage, hook string) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveHookFailure(stage, hook)
		}
	}
}

// Result summarizes one pass through the pipeline.
type Result struct {
	State    State
	Decision policy.Decision
	Outcome  *Outcome
	Warnings []string
	History  []State
}

func (r *Result) transition(s State) {
	r.State = s
	r.History = append(r.History, s)
}
