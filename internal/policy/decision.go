// Package policy classifies proposed tool invocations against an immutable
// rule table. Rules are grouped into deny, ask and allow classes that are
// evaluated in that order; the evaluator never approves by default.
package policy

import "fmt"

// Kind is the outcome of a policy decision.
type Kind int

const (
	// NoOpinion defers to the host's interactive default.
	NoOpinion Kind = iota
	// Approve lets the invocation run without confirmation.
	Approve
	// AskUser requires explicit human confirmation.
	AskUser
	// Deny blocks the invocation. Deny is terminal.
	Deny
)

func (k Kind) String() string {
	switch k {
	case NoOpinion:
		return "no_opinion"
	case Approve:
		return "approve"
	case AskUser:
		return "ask"
	case Deny:
		return "deny"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Decision is a classified outcome with the reason shown to the user and the
// identifier of the rule or hook that produced it.
type Decision struct {
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason,omitempty"`
	RuleID string `json:"rule_id,omitempty"`
}

// HasOpinion reports whether the decision is anything other than NoOpinion.
func (d Decision) HasOpinion() bool {
	return d.Kind != NoOpinion
}

func (d Decision) String() string {
	if d.Reason == "" {
		return d.Kind.String()
	}
	return d.Kind.String() + ": " + d.Reason
}

// Convenience constructors.

func Approved(ruleID, reason string) Decision {
	return Decision{Kind: Approve, RuleID: ruleID, Reason: reason}
}

func Ask(ruleID, reason string) Decision {
	return Decision{Kind: AskUser, RuleID: ruleID, Reason: reason}
}

func Denied(ruleID, reason string) Decision {
	return Decision{Kind: Deny, RuleID: ruleID, Reason: reason}
}

// Class is the precedence class of a rule.
type Class string

const (
	ClassDeny  Class = "deny"
	ClassAsk   Class = "ask"
	ClassAllow Class = "allow"
)

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	switch c {
	case ClassDeny, ClassAsk, ClassAllow:
		return true
	}
	return false
}

func (c Class) decision(ruleID, reason string) Decision {
	switch c {
	case ClassDeny:
		return Denied(ruleID, reason)
	case ClassAsk:
		return Ask(ruleID, reason)
	default:
		return Approved(ruleID, reason)
	}
}
