package policy

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func bash(command string) Invocation {
	return Invocation{ToolName: "Bash", Arguments: map[string]any{"command": command}}
}

func mustTable(t *testing.T, specs ...RuleSpec) *Table {
	t.Helper()
	table, err := NewTable(specs)
	if err != nil {
		t.Fatalf("NewTable() error: %v", err)
	}
	return table
}

func defaultSpecs() []RuleSpec {
	return []RuleSpec{
		{ID: "no-root-wipe", Class: ClassDeny, CommandPrefix: "rm -rf /", Reason: "refusing to delete the filesystem root"},
		{ID: "no-force-push", Class: ClassDeny, CommandPrefix: "git push --force"},
		{ID: "world-writable", Class: ClassDeny, Regex: `^chmod (-R )?0?777\b`},
		{ID: "confirm-push", Class: ClassAsk, CommandPrefix: "git push"},
		{ID: "npm-test", Class: ClassAllow, CommandPrefix: "npm test"},
		{ID: "go-test", Class: ClassAllow, CommandPrefix: "go test *"},
		{ID: "git-status", Class: ClassAllow, CommandPrefix: "git status"},
		{ID: "read-anything", Class: ClassAllow, Tool: "group:read"},
		{ID: "secrets", Class: ClassDeny, Tool: "group:write", PathGlob: ".env"},
		{ID: "git-dir", Class: ClassDeny, Tool: "group:write", PathGlob: ".git/**"},
	}
}

func TestEvaluateShellCommands(t *testing.T) {
	eval := NewEvaluator(mustTable(t, defaultSpecs()...), nil)

	tests := []struct {
		name    string
		command string
		want    Kind
		rule    string
	}{
		{"root wipe", "rm -rf /", Deny, "no-root-wipe"},
		{"flag order", "rm -fr /", Deny, "no-root-wipe"},
		{"absolute program", "/bin/rm -rf /", Deny, "no-root-wipe"},
		{"extra args", "rm -rf / --no-preserve-root", Deny, "no-root-wipe"},
		{"second clause", "npm test && rm -rf /", Deny, "no-root-wipe"},
		{"after pipe", "ls | rm -rf /", Deny, "no-root-wipe"},
		{"in substitution", "echo $(rm -rf /)", Deny, "no-root-wipe"},
		{"in quoted substitution", `echo "$(rm -rf /)"`, Deny, "no-root-wipe"},
		{"nested shell", `bash -c "rm -rf /"`, Deny, "no-root-wipe"},
		{"sudo wrapper", "sudo rm -rf /", Deny, "no-root-wipe"},
		{"env wrapper", "env FOO=1 rm -rf /", Deny, "no-root-wipe"},
		{"env prefix", "FOO=1 rm -rf /", Deny, "no-root-wipe"},
		{"force push", "git push --force origin main", Deny, "no-force-push"},
		{"chmod regex", "chmod -R 777 /srv", Deny, "world-writable"},
		{"ask push", "git push origin main", AskUser, "confirm-push"},
		{"simple allow", "npm test", Approve, "npm-test"},
		{"allow with args", "npm test -- --watch", Approve, "npm-test"},
		{"glob allow", "go test ./...", Approve, "go-test"},
		{"chained allow", "npm test && echo done", AskUser, "npm-test"},
		{"chained first clause only", "git status; chmod 777 ~", Deny, "world-writable"},
		{"redirected allow", "npm test > out.txt", AskUser, "npm-test"},
		{"substituted allow", "go test $(go list ./...)", AskUser, "go-test"},
		{"background allow", "npm test &", AskUser, "npm-test"},
		{"sudo not allowed", "sudo npm test", NoOpinion, ""},
		{"relative program not allowed", "./git status", NoOpinion, ""},
		{"absolute program not allowed", "/tmp/evil/git status", NoOpinion, ""},
		{"loader override escalates", "LD_PRELOAD=/tmp/evil.so git status", AskUser, "git-status"},
		{"path override escalates", "PATH=/tmp/evil git status", AskUser, "git-status"},
		{"unparsable nested payload", `bash -c 'rm -rf / "x'`, Deny, "no-root-wipe"},
		{"unmatched", "make build", NoOpinion, ""},
		{"rm elsewhere", "rm -rf /tmp/build", NoOpinion, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := eval.Evaluate(context.Background(), bash(tt.command))
			if d.Kind != tt.want {
				t.Fatalf("Evaluate(%q) = %v, want %v", tt.command, d, tt.want)
			}
			if d.RuleID != tt.rule {
				t.Errorf("rule = %q, want %q", d.RuleID, tt.rule)
			}
		})
	}
}

func TestEvaluateCompoundReason(t *testing.T) {
	eval := NewEvaluator(mustTable(t, defaultSpecs()...), nil)
	d := eval.Evaluate(context.Background(), bash("npm test && npm publish"))
	if d.Kind != AskUser {
		t.Fatalf("kind = %v, want AskUser", d.Kind)
	}
	if !strings.HasPrefix(d.Reason, ReasonCompound) {
		t.Errorf("reason = %q, want prefix %q", d.Reason, ReasonCompound)
	}
}

func TestEvaluateDenyReason(t *testing.T) {
	eval := NewEvaluator(mustTable(t, defaultSpecs()...), nil)
	d := eval.Evaluate(context.Background(), bash("rm -rf /"))
	if d.Reason != "refusing to delete the filesystem root" {
		t.Errorf("reason = %q", d.Reason)
	}
	d = eval.Evaluate(context.Background(), bash("git push --force"))
	if d.Reason != "matched deny rule no-force-push" {
		t.Errorf("default reason = %q", d.Reason)
	}
}

func TestEvaluateFileTools(t *testing.T) {
	eval := NewEvaluator(mustTable(t, defaultSpecs()...), nil)

	tests := []struct {
		name string
		inv  Invocation
		want Kind
	}{
		{"write env", Invocation{ToolName: "Write", Arguments: map[string]any{"file_path": "/repo/.env"}}, Deny},
		{"edit git config", Invocation{ToolName: "Edit", Arguments: map[string]any{"file_path": "/repo/.git/config"}}, Deny},
		{"edit source", Invocation{ToolName: "Edit", Arguments: map[string]any{"file_path": "/repo/main.go"}}, NoOpinion},
		{"read env", Invocation{ToolName: "Read", Arguments: map[string]any{"file_path": "/repo/.env"}}, Approve},
		{"notebook path", Invocation{ToolName: "NotebookEdit", Arguments: map[string]any{"notebook_path": ".git/hooks/x"}}, Deny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eval.Evaluate(context.Background(), tt.inv); got.Kind != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateArgumentRule(t *testing.T) {
	table := mustTable(t, RuleSpec{
		ID:       "no-prod-fetch",
		Class:    ClassAsk,
		Tool:     "WebFetch",
		Argument: &ArgumentSpec{Name: "url", Glob: "https://prod.*"},
	})
	eval := NewEvaluator(table, nil)

	inv := Invocation{ToolName: "WebFetch", Arguments: map[string]any{"url": "https://prod.example.com/admin"}}
	if d := eval.Evaluate(context.Background(), inv); d.Kind != AskUser {
		t.Errorf("prod fetch = %v, want AskUser", d)
	}
	inv.Arguments["url"] = "https://docs.example.com"
	if d := eval.Evaluate(context.Background(), inv); d.Kind != NoOpinion {
		t.Errorf("docs fetch = %v, want NoOpinion", d)
	}
}

func TestEvaluateUnparsableCommand(t *testing.T) {
	eval := NewEvaluator(mustTable(t, defaultSpecs()...), nil)

	d := eval.Evaluate(context.Background(), bash(`rm -rf / "`))
	if d.Kind != Deny {
		t.Errorf("unparsable deny = %v, want Deny", d)
	}

	d = eval.Evaluate(context.Background(), bash(`npm test "unterminated`))
	if d.Kind != AskUser || !strings.HasPrefix(d.Reason, ReasonUnparsable) {
		t.Errorf("unparsable allow = %v, want AskUser(%s)", d, ReasonUnparsable)
	}
}

func TestDenyDominatesAllPermutations(t *testing.T) {
	specs := []RuleSpec{
		{ID: "allow-rm", Class: ClassAllow, CommandPrefix: "rm"},
		{ID: "ask-rm", Class: ClassAsk, CommandPrefix: "rm -rf"},
		{ID: "deny-root", Class: ClassDeny, CommandPrefix: "rm -rf /"},
		{ID: "allow-bash", Class: ClassAllow, Tool: "bash"},
	}

	permute(specs, func(perm []RuleSpec) {
		eval := NewEvaluator(mustTable(t, perm...), nil)
		d := eval.Evaluate(context.Background(), bash("rm -rf /"))
		if d.Kind != Deny || d.RuleID != "deny-root" {
			t.Errorf("order %v: Evaluate = %v, want Deny(deny-root)", ids(perm), d)
		}
	})
}

func TestPredicateFailuresAbstain(t *testing.T) {
	panicky := NewRule("panicky", ClassDeny, "", func(context.Context, Invocation, []string) (bool, error) {
		panic("boom")
	})
	failing := NewRule("failing", ClassDeny, "", func(context.Context, Invocation, []string) (bool, error) {
		return false, errors.New("backend unavailable")
	})
	allow, err := CompileRule(RuleSpec{ID: "allow-ls", Class: ClassAllow, CommandPrefix: "ls"})
	if err != nil {
		t.Fatalf("CompileRule: %v", err)
	}

	eval := NewEvaluator(TableFromRules(panicky, failing, allow), nil)
	d := eval.Evaluate(context.Background(), bash("ls -la"))
	if d.Kind != Approve || d.RuleID != "allow-ls" {
		t.Errorf("Evaluate = %v, want Approve(allow-ls)", d)
	}
}

func TestPredicateSeesSegments(t *testing.T) {
	var seen []string
	spy := NewRule("spy", ClassAsk, "", func(_ context.Context, _ Invocation, argv []string) (bool, error) {
		seen = append(seen, strings.Join(argv, " "))
		return false, nil
	})
	eval := NewEvaluator(TableFromRules(spy), nil)
	eval.Evaluate(context.Background(), bash("make && sudo make install"))

	want := []string{"make", "sudo make install", "make install"}
	if strings.Join(seen, "|") != strings.Join(want, "|") {
		t.Errorf("predicate saw %q, want %q", seen, want)
	}
}

func TestNewTableErrors(t *testing.T) {
	tests := []struct {
		name    string
		specs   []RuleSpec
		wantErr error
		field   string
	}{
		{"missing id", []RuleSpec{{Class: ClassDeny, CommandPrefix: "rm"}}, ErrInvalidRule, "id"},
		{"bad class", []RuleSpec{{ID: "x", Class: "block", CommandPrefix: "rm"}}, ErrInvalidRule, "class"},
		{"no predicate", []RuleSpec{{ID: "x", Class: ClassDeny}}, ErrInvalidRule, ""},
		{"bad regex", []RuleSpec{{ID: "x", Class: ClassDeny, Regex: "("}}, ErrInvalidRule, "regex"},
		{"compound prefix", []RuleSpec{{ID: "x", Class: ClassAllow, CommandPrefix: "npm test && ls"}}, ErrInvalidRule, "command_prefix"},
		{"unknown group", []RuleSpec{{ID: "x", Class: ClassAllow, Tool: "group:nope"}}, ErrInvalidRule, "tool"},
		{"argument without name", []RuleSpec{{ID: "x", Class: ClassAsk, Argument: &ArgumentSpec{Glob: "*"}}}, ErrInvalidRule, "argument"},
		{"duplicate", []RuleSpec{
			{ID: "x", Class: ClassDeny, CommandPrefix: "rm"},
			{ID: "x", Class: ClassAllow, CommandPrefix: "ls"},
		}, ErrDuplicateRule, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.specs)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			var ruleErr *RuleError
			if !errors.As(err, &ruleErr) {
				t.Fatalf("err = %T, want *RuleError", err)
			}
			if ruleErr.Field != tt.field {
				t.Errorf("field = %q, want %q", ruleErr.Field, tt.field)
			}
		})
	}
}

func TestNewTableIndexesErrors(t *testing.T) {
	_, err := NewTable([]RuleSpec{
		{ID: "ok", Class: ClassDeny, CommandPrefix: "rm"},
		{ID: "bad", Class: ClassDeny, Regex: "["},
	})
	var ruleErr *RuleError
	if !errors.As(err, &ruleErr) || ruleErr.Index != 1 {
		t.Fatalf("err = %v, want RuleError at index 1", err)
	}
}

func TestTableCounts(t *testing.T) {
	table := mustTable(t, defaultSpecs()...)
	counts := table.Counts()
	if counts[ClassDeny] != 5 || counts[ClassAsk] != 1 || counts[ClassAllow] != 4 {
		t.Errorf("counts = %v", counts)
	}
	if table.Len() != 10 {
		t.Errorf("Len = %d", table.Len())
	}
}

func TestNormalizeFlag(t *testing.T) {
	tests := map[string]string{
		"-rf":     "-fr",
		"-fr":     "-fr",
		"-la":     "-al",
		"-x":      "-x",
		"--force": "--force",
		"-n5":     "-n5",
		"file":    "file",
	}
	for in, want := range tests {
		if got := normalizeFlag(in); got != want {
			t.Errorf("normalizeFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func permute(specs []RuleSpec, fn func([]RuleSpec)) {
	var rec func(int)
	rec = func(k int) {
		if k == len(specs) {
			cp := append([]RuleSpec(nil), specs...)
			fn(cp)
			return
		}
		for i := k; i < len(specs); i++ {
			specs[k], specs[i] = specs[i], specs[k]
			rec(k + 1)
			specs[k], specs[i] = specs[i], specs[k]
		}
	}
	rec(0)
}

func ids(specs []RuleSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.ID
	}
	return out
}
