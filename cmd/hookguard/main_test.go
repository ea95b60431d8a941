package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"hook", "match", "evaluate", "gate", "loop", "rules", "schema", "gateway", "doctor", "commit-context"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

// writeConfig creates a minimal config whose state lives in a temp dir.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hookguard.yaml")
	body := "version: 1\naudit:\n  enabled: false\n" + extra
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := buildRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return 1
}

func TestHookBlocksRootWipe(t *testing.T) {
	cfg := writeConfig(t, "")
	event := `{"hook_event_name":"PreToolUse","session_id":"s1","tool_name":"Bash","tool_input":{"command":"rm -rf /"}}`

	stdout, stderr, err := execute(t, event, "--config", cfg, "hook")
	if got := exitStatus(err); got != 2 {
		t.Fatalf("exit = %d, want 2 (err %v)", got, err)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("stdout %q: %v", stdout, err)
	}
	if out["decision"] != "deny" || out["message"] == "" {
		t.Fatalf("output = %v", out)
	}
	if !strings.Contains(stderr, out["message"]) {
		t.Fatalf("stderr %q lacks message %q", stderr, out["message"])
	}
}

func TestHookContinueWritesNothing(t *testing.T) {
	cfg := writeConfig(t, "")
	event := `{"hook_event_name":"PreToolUse","session_id":"s1","tool_name":"Bash","tool_input":{"command":"make build"}}`

	stdout, _, err := execute(t, event, "--config", cfg, "hook")
	if err != nil {
		t.Fatalf("hook: %v", err)
	}
	if stdout != "" {
		t.Fatalf("stdout = %q, want empty", stdout)
	}
}

func TestHookRejectsBadInput(t *testing.T) {
	cfg := writeConfig(t, "")
	_, _, err := execute(t, `{"hook_event_name":"Nope","session_id":"s1"}`, "--config", cfg, "hook")
	if got := exitStatus(err); got != 1 {
		t.Fatalf("exit = %d, want 1", got)
	}
}

func TestHookMissingExplicitConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	_, _, err := execute(t, `{}`, "--config", missing, "hook")
	if err == nil || exitStatus(err) != 1 {
		t.Fatalf("err = %v, want config error", err)
	}
}

func TestEvaluate(t *testing.T) {
	cfg := writeConfig(t, "")

	stdout, _, err := execute(t, "", "--config", cfg, "evaluate", "Write", "--path", ".env")
	if exitStatus(err) != 2 {
		t.Fatalf("Write .env: err = %v", err)
	}
	if !strings.Contains(stdout, "decision: deny") {
		t.Fatalf("stdout = %q", stdout)
	}

	stdout, _, err = execute(t, "", "--config", cfg, "evaluate", "Bash", "--command", "git status")
	if err != nil {
		t.Fatalf("git status: %v", err)
	}
	if !strings.Contains(stdout, "decision: approve") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestSchema(t *testing.T) {
	for _, which := range []string{"config", "rules"} {
		stdout, _, err := execute(t, "", "schema", which)
		if err != nil {
			t.Fatalf("schema %s: %v", which, err)
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
			t.Fatalf("schema %s is not JSON: %v", which, err)
		}
	}
	if _, _, err := execute(t, "", "schema", "other"); err == nil {
		t.Fatal("expected error for unknown schema")
	}
}

func TestGatewayRoute(t *testing.T) {
	cfg := writeConfig(t, "")

	stdout, _, err := execute(t, "", "--config", cfg, "gateway", "route", "/claude plan add login", "--repo", "acme/api", "--json")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	var route struct {
		Outcome string `json:"outcome"`
		Command string `json:"command"`
		Prompt  string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(stdout), &route); err != nil {
		t.Fatalf("stdout %q: %v", stdout, err)
	}
	if route.Outcome != "prompt" || route.Command != "plan" || !strings.Contains(route.Prompt, "add login") {
		t.Fatalf("route = %+v", route)
	}

	if _, _, err := execute(t, "", "--config", cfg, "gateway", "route", "hi", "--permission", "root"); err == nil {
		t.Fatal("expected error for unknown permission")
	}
}

func TestLoopRecordHaltsAndResets(t *testing.T) {
	cfg := writeConfig(t, "")
	args := []string{"--config", cfg, "loop", "record", "--session", "cli-loop", "--category", "implementation"}

	for i := 1; i <= 2; i++ {
		if _, _, err := execute(t, "", args...); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
	stdout, _, err := execute(t, "", args...)
	if exitStatus(err) != 2 {
		t.Fatalf("third idle iteration: err = %v", err)
	}
	if !strings.Contains(stdout, "no_progress") {
		t.Fatalf("halt report = %q", stdout)
	}

	stdout, _, err = execute(t, "", "--config", cfg, "loop", "status", "--session", "cli-loop")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(stdout, "open") {
		t.Fatalf("status = %q", stdout)
	}

	if _, _, err := execute(t, "", "--config", cfg, "loop", "reset", "--session", "cli-loop"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, _, err := execute(t, "", args...); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestRulesCheck(t *testing.T) {
	dir := t.TempDir()
	table := filepath.Join(dir, "rules.yaml")
	body := "version: 1\nrules:\n  - id: no-curl\n    class: deny\n    command_prefix: curl\n"
	if err := os.WriteFile(table, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	stdout, _, err := execute(t, "", "rules", "check", table)
	if err != nil {
		t.Fatalf("rules check: %v", err)
	}
	if !strings.Contains(stdout, "1 rules ok (deny 1, ask 0, allow 0)") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(&exitError{code: 2}); got != 2 {
		t.Fatalf("exitCode = %d", got)
	}
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Fatalf("exitCode = %d", got)
	}
}

func TestLoopRecordGrantedExitClearsState(t *testing.T) {
	cfg := writeConfig(t, "gate:\n  checks:\n    - name: ok\n      argv: [\"true\"]\n")
	base := []string{"--config", cfg, "loop", "record", "--session", "cli-exit", "--category", "implementation"}

	if _, _, err := execute(t, "", base...); err != nil {
		t.Fatalf("idle iteration: %v", err)
	}
	stdout, _, err := execute(t, "", append(base, "--progress", "--exit")...)
	if err != nil {
		t.Fatalf("exit iteration: %v", err)
	}
	if !strings.Contains(stdout, "exit granted") {
		t.Fatalf("stdout = %q", stdout)
	}
	if _, _, err := execute(t, "", "--config", cfg, "loop", "status", "--session", "cli-exit"); err == nil {
		t.Fatal("loop state should be gone after a granted exit")
	}
}
