package policy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/haasonsaas/hookguard/internal/shell"
)

// Rule table errors.
var (
	ErrInvalidRule   = errors.New("invalid rule")
	ErrDuplicateRule = errors.New("duplicate rule id")
)

// RuleError describes a rule that failed to compile.
type RuleError struct {
	Index int
	ID    string
	Field string
	Err   error
}

func (e *RuleError) Error() string {
	id := e.ID
	if id == "" {
		id = "<unnamed>"
	}
	if e.Field == "" {
		return fmt.Sprintf("rule %d (%s): %v", e.Index, id, e.Err)
	}
	return fmt.Sprintf("rule %d (%s): %s: %v", e.Index, id, e.Field, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// ArgumentSpec matches a named tool argument against a glob.
type ArgumentSpec struct {
	Name string `yaml:"name" json:"name" jsonschema:"required"`
	Glob string `yaml:"glob" json:"glob" jsonschema:"required"`
}

// RuleSpec is the on-disk form of a rule. All present predicates must hold
// for the rule to match.
type RuleSpec struct {
	ID    string `yaml:"id" json:"id" jsonschema:"required,minLength=1"`
	Class Class  `yaml:"class" json:"class" jsonschema:"required,enum=deny,enum=ask,enum=allow"`

	// Tool is a tool-name glob or a group reference such as "group:write".
	Tool string `yaml:"tool,omitempty" json:"tool,omitempty"`

	// CommandPrefix is matched word by word against each parsed segment.
	CommandPrefix string `yaml:"command_prefix,omitempty" json:"command_prefix,omitempty"`

	PathGlob string        `yaml:"path_glob,omitempty" json:"path_glob,omitempty"`
	Argument *ArgumentSpec `yaml:"argument,omitempty" json:"argument,omitempty"`

	// Regex is an explicit opt-in regular expression tested against each
	// normalized segment.
	Regex string `yaml:"regex,omitempty" json:"regex,omitempty"`

	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Predicate is a programmatic rule condition. Returning an error or
// panicking makes the rule abstain for that invocation.
type Predicate func(ctx context.Context, inv Invocation, argv []string) (bool, error)

// Rule is a compiled rule.
type Rule struct {
	ID     string
	Class  Class
	Reason string

	tool      *Glob
	toolGroup string
	prefix    []prefixWord
	path      *Glob
	argName   string
	argGlob   *Glob
	regex     *regexp.Regexp
	predicate Predicate
}

// NewRule builds a programmatic rule around a predicate.
func NewRule(id string, class Class, reason string, pred Predicate) Rule {
	return Rule{ID: id, Class: class, Reason: reason, predicate: pred}
}

// CompileRule validates and compiles a rule spec.
func CompileRule(spec RuleSpec) (Rule, error) {
	fail := func(field string, err error) (Rule, error) {
		return Rule{}, &RuleError{ID: spec.ID, Field: field, Err: err}
	}

	if strings.TrimSpace(spec.ID) == "" {
		return fail("id", fmt.Errorf("%w: id is required", ErrInvalidRule))
	}
	if !spec.Class.Valid() {
		return fail("class", fmt.Errorf("%w: unknown class %q", ErrInvalidRule, spec.Class))
	}

	r := Rule{ID: spec.ID, Class: spec.Class, Reason: spec.Reason}
	predicates := 0

	if tool := strings.TrimSpace(spec.Tool); tool != "" {
		predicates++
		if strings.HasPrefix(tool, "group:") {
			if _, ok := DefaultGroups[tool]; !ok {
				return fail("tool", fmt.Errorf("%w: unknown tool group %q", ErrInvalidRule, tool))
			}
			r.toolGroup = tool
		} else {
			g, err := CompileWordGlob(NormalizeTool(tool))
			if err != nil {
				return fail("tool", err)
			}
			r.tool = g
		}
	}

	if prefix := strings.TrimSpace(spec.CommandPrefix); prefix != "" {
		predicates++
		words, err := compilePrefix(prefix)
		if err != nil {
			return fail("command_prefix", err)
		}
		r.prefix = words
	}

	if spec.PathGlob != "" {
		predicates++
		g, err := CompilePathGlob(spec.PathGlob)
		if err != nil {
			return fail("path_glob", err)
		}
		r.path = g
	}

	if spec.Argument != nil {
		predicates++
		if spec.Argument.Name == "" {
			return fail("argument", fmt.Errorf("%w: argument name is required", ErrInvalidRule))
		}
		g, err := CompileWordGlob(spec.Argument.Glob)
		if err != nil {
			return fail("argument", err)
		}
		r.argName = spec.Argument.Name
		r.argGlob = g
	}

	if spec.Regex != "" {
		predicates++
		re, err := regexp.Compile(spec.Regex)
		if err != nil {
			return fail("regex", fmt.Errorf("%w: %v", ErrInvalidRule, err))
		}
		r.regex = re
	}

	if predicates == 0 {
		return fail("", fmt.Errorf("%w: rule has no predicate", ErrInvalidRule))
	}
	return r, nil
}

// usesCommand reports whether the rule inspects shell segments.
func (r *Rule) usesCommand() bool {
	return len(r.prefix) > 0 || r.regex != nil
}

// match evaluates the rule against an invocation and its candidate argv
// vectors. Command predicates are satisfied if any candidate matches them.
func (r *Rule) match(ctx context.Context, inv Invocation, candidates [][]string) (bool, error) {
	if r.toolGroup != "" && !InGroup(r.toolGroup, inv.ToolName) {
		return false, nil
	}
	if r.tool != nil && !r.tool.Match(inv.Tool()) {
		return false, nil
	}
	if r.path != nil {
		p := inv.FilePath()
		if p == "" || !r.path.Match(p) {
			return false, nil
		}
	}
	if r.argGlob != nil {
		v, ok := inv.StringArg(r.argName)
		if !ok || !r.argGlob.Match(v) {
			return false, nil
		}
	}

	if !r.usesCommand() && r.predicate == nil {
		return true, nil
	}
	if r.usesCommand() && len(candidates) == 0 {
		return false, nil
	}
	if r.predicate != nil && len(candidates) == 0 {
		return r.predicate(ctx, inv, nil)
	}

	for _, argv := range candidates {
		if len(r.prefix) > 0 && !matchPrefix(r.prefix, argv, r.Class == ClassAllow) {
			continue
		}
		if r.regex != nil && !r.regex.MatchString(strings.Join(argv, " ")) {
			continue
		}
		if r.predicate != nil {
			ok, err := r.predicate(ctx, inv, argv)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
		}
		return true, nil
	}
	return false, nil
}

type prefixWord struct {
	literal string
	glob    *Glob
}

func compilePrefix(prefix string) ([]prefixWord, error) {
	cmd, err := shell.Parse(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if !cmd.IsSimple() || len(cmd.Segments[0].Env) > 0 {
		return nil, fmt.Errorf("%w: prefix must be a single simple command", ErrInvalidRule)
	}
	argv := cmd.Segments[0].Argv
	words := make([]prefixWord, 0, len(argv))
	for _, w := range argv {
		if hasGlobMeta(w) {
			g, err := CompileWordGlob(w)
			if err != nil {
				return nil, err
			}
			words = append(words, prefixWord{glob: g})
			continue
		}
		words = append(words, prefixWord{literal: normalizeFlag(w)})
	}
	return words, nil
}

// matchPrefix compares argv word by word. For deny and ask rules argv[0] is
// compared by base name, so /bin/rm still matches "rm". An allow rule
// (exactProgram) only matches the program word as written: "ls" does not
// approve ./ls or /tmp/evil/ls. A pattern that names a path is always
// compared as written.
func matchPrefix(prefix []prefixWord, argv []string, exactProgram bool) bool {
	if len(argv) < len(prefix) {
		return false
	}
	for i, want := range prefix {
		got := argv[i]
		if i == 0 && !strings.Contains(want.literal, "/") {
			if exactProgram && strings.Contains(got, "/") {
				return false
			}
			got = filepath.Base(got)
		}
		if want.glob != nil {
			if !want.glob.Match(got) {
				return false
			}
			continue
		}
		if normalizeFlag(got) != want.literal {
			return false
		}
	}
	return true
}

// normalizeFlag sorts combined short flags so that -rf and -fr compare equal.
func normalizeFlag(w string) string {
	if len(w) < 3 || w[0] != '-' || w[1] == '-' {
		return w
	}
	for i := 1; i < len(w); i++ {
		c := w[i]
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return w
		}
	}
	letters := []byte(w[1:])
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })
	return "-" + string(letters)
}

// Table is an immutable, compiled rule table. Rule order within each class
// is preserved from the source.
type Table struct {
	deny  []Rule
	ask   []Rule
	allow []Rule
}

// NewTable compiles rule specs. Any invalid or duplicate rule is an error.
func NewTable(specs []RuleSpec) (*Table, error) {
	rules := make([]Rule, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for i, spec := range specs {
		rule, err := CompileRule(spec)
		if err != nil {
			var ruleErr *RuleError
			if errors.As(err, &ruleErr) {
				ruleErr.Index = i
			}
			return nil, err
		}
		if seen[rule.ID] {
			return nil, &RuleError{Index: i, ID: rule.ID, Err: ErrDuplicateRule}
		}
		seen[rule.ID] = true
		rules = append(rules, rule)
	}
	return TableFromRules(rules...), nil
}

// TableFromRules builds a table from already compiled rules.
func TableFromRules(rules ...Rule) *Table {
	t := &Table{}
	for _, r := range rules {
		switch r.Class {
		case ClassDeny:
			t.deny = append(t.deny, r)
		case ClassAsk:
			t.ask = append(t.ask, r)
		case ClassAllow:
			t.allow = append(t.allow, r)
		}
	}
	return t
}

// Len returns the number of rules in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.deny) + len(t.ask) + len(t.allow)
}

// Counts returns the number of rules per class.
func (t *Table) Counts() map[Class]int {
	if t == nil {
		return map[Class]int{}
	}
	return map[Class]int{
		ClassDeny:  len(t.deny),
		ClassAsk:   len(t.ask),
		ClassAllow: len(t.allow),
	}
}
