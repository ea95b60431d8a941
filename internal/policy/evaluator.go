package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/hookguard/internal/shell"
)

// ReasonCompound is returned when an allow rule matched a command that is not
// a single simple command.
const ReasonCompound = "compound command requires confirmation"

// ReasonUnparsable is returned when a shell command could not be parsed and
// no deny rule matched its raw words.
const ReasonUnparsable = "command could not be parsed"

// wrappers are programs that run their arguments as another command.
var wrappers = map[string]bool{
	"sudo": true, "doas": true, "env": true, "command": true, "builtin": true,
	"nice": true, "nohup": true, "time": true, "timeout": true, "exec": true,
	"xargs": true, "stdbuf": true,
}

// Evaluator classifies invocations against a rule table.
type Evaluator struct {
	table  *Table
	logger *slog.Logger
}

// NewEvaluator creates an evaluator over an immutable table.
func NewEvaluator(table *Table, logger *slog.Logger) *Evaluator {
	if table == nil {
		table = &Table{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		table:  table,
		logger: logger.With("component", "policy"),
	}
}

// Table returns the evaluator's rule table.
func (e *Evaluator) Table() *Table {
	return e.table
}

// Evaluate runs deny rules, then ask rules, then allow rules. Deny and ask
// rules see every segment of a shell command, including nested payloads and
// wrapped programs. Allow rules only approve a single simple command; a
// compound command matching an allow rule is escalated to AskUser. With no
// matching rule the result is NoOpinion.
func (e *Evaluator) Evaluate(ctx context.Context, inv Invocation) Decision {
	var (
		cmd      *shell.Command
		parseErr error
		strict   [][]string
		loose    [][]string
	)

	if raw := inv.Command(); raw != "" {
		cmd, parseErr = shell.Parse(raw)
		if parseErr != nil {
			e.logger.Debug("command parse failed", "tool", inv.ToolName, "error", parseErr)
			loose = expandWrappers(strings.Fields(raw))
		} else {
			for _, seg := range cmd.Segments {
				if len(seg.Argv) == 0 {
					continue
				}
				loose = append(loose, expandWrappers(seg.Argv)...)
				if !seg.Nested {
					strict = append(strict, seg.Argv)
				}
			}
		}
	}

	if d, ok := e.firstMatch(ctx, e.table.deny, inv, loose); ok {
		return d
	}
	if d, ok := e.firstMatch(ctx, e.table.ask, inv, loose); ok {
		return d
	}
	if parseErr != nil {
		return Ask("", fmt.Sprintf("%s: %v", ReasonUnparsable, parseErr))
	}

	d, ok := e.firstMatch(ctx, e.table.allow, inv, strict)
	if !ok {
		return Decision{Kind: NoOpinion}
	}
	if cmd != nil && !cmd.IsSimple() {
		reason := ReasonCompound
		if detail := cmd.Reason(); detail != "" {
			reason += " (" + detail + ")"
		}
		return Ask(d.RuleID, reason)
	}
	return d
}

func (e *Evaluator) firstMatch(ctx context.Context, rules []Rule, inv Invocation, candidates [][]string) (Decision, bool) {
	for i := range rules {
		rule := &rules[i]
		ok, err := safeMatch(ctx, rule, inv, candidates)
		if err != nil {
			e.logger.Warn("rule evaluation failed; abstaining",
				"rule", rule.ID,
				"class", rule.Class,
				"tool", inv.ToolName,
				"error", err,
			)
			continue
		}
		if ok {
			reason := rule.Reason
			if reason == "" {
				reason = fmt.Sprintf("matched %s rule %s", rule.Class, rule.ID)
			}
			return rule.Class.decision(rule.ID, reason), true
		}
	}
	return Decision{}, false
}

func safeMatch(ctx context.Context, rule *Rule, inv Invocation, candidates [][]string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("predicate panic: %v", r)
		}
	}()
	return rule.match(ctx, inv, candidates)
}

// expandWrappers returns argv followed by the commands it wraps, so that
// "sudo rm -rf /" is also checked as "rm -rf /".
func expandWrappers(argv []string) [][]string {
	if len(argv) == 0 {
		return nil
	}
	out := [][]string{argv}
	for len(argv) > 0 && wrappers[filepath.Base(argv[0])] {
		argv = argv[1:]
		for len(argv) > 0 && (strings.HasPrefix(argv[0], "-") || isEnvAssignment(argv[0]) || isDuration(argv[0])) {
			argv = argv[1:]
		}
		if len(argv) > 0 {
			out = append(out, argv)
		}
	}
	return out
}

func isEnvAssignment(w string) bool {
	eq := strings.IndexByte(w, '=')
	return eq > 0 && !strings.ContainsAny(w[:eq], "/-.")
}

// isDuration matches the leading argument of timeout(1), e.g. 10 or 5s.
func isDuration(w string) bool {
	if w == "" {
		return false
	}
	w = strings.TrimRight(w, "smhd")
	if w == "" {
		return false
	}
	for i := 0; i < len(w); i++ {
		if (w[i] < '0' || w[i] > '9') && w[i] != '.' {
			return false
		}
	}
	return true
}
