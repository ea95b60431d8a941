package skills

import (
	"errors"
	"strings"
	"testing"
)

func fakeGating(osName string, bins ...string) *GatingContext {
	have := make(map[string]bool)
	for _, b := range bins {
		have[b] = true
	}
	ctx := NewGatingContext()
	ctx.OS = osName
	ctx.lookPath = func(name string) (string, error) {
		if have[name] {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
	return ctx
}

func TestCheckEligibility(t *testing.T) {
	tests := []struct {
		name     string
		meta     *SkillMetadata
		eligible bool
		reason   string
	}{
		{"no metadata", nil, true, ""},
		{"always", &SkillMetadata{Always: true, OS: []string{"plan9"}}, true, ""},
		{"os match", &SkillMetadata{OS: []string{"linux", "darwin"}}, true, ""},
		{"os mismatch", &SkillMetadata{OS: []string{"windows"}}, false, "requires OS"},
		{"bins present", &SkillMetadata{Requires: &SkillRequires{Bins: []string{"go"}}}, true, ""},
		{"bin missing", &SkillMetadata{Requires: &SkillRequires{Bins: []string{"go", "cargo"}}}, false, "cargo"},
		{"any bins", &SkillMetadata{Requires: &SkillRequires{AnyBins: []string{"yarn", "npm"}}}, true, ""},
		{"any bins missing", &SkillMetadata{Requires: &SkillRequires{AnyBins: []string{"yarn", "pnpm"}}}, false, "requires one of"},
		{"env missing", &SkillMetadata{Requires: &SkillRequires{Env: []string{"HOOKGUARD_TEST_UNSET_VAR"}}}, false, "HOOKGUARD_TEST_UNSET_VAR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skill := &SkillEntry{Name: "x", Description: "d", Metadata: tt.meta}
			res := skill.CheckEligibility(fakeGating("linux", "go", "npm"))
			if res.Eligible != tt.eligible {
				t.Fatalf("Eligible = %v, want %v (%s)", res.Eligible, tt.eligible, res.Reason)
			}
			if !strings.Contains(res.Reason, tt.reason) {
				t.Errorf("Reason = %q, want containing %q", res.Reason, tt.reason)
			}
		})
	}
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("HOOKGUARD_TEST_SET_VAR", "1")
	ctx := NewGatingContext()
	if !ctx.CheckEnv("HOOKGUARD_TEST_SET_VAR") {
		t.Error("expected env var to be set")
	}
	if !ctx.EnvVars["HOOKGUARD_TEST_SET_VAR"] {
		t.Error("expected cached result")
	}
}

func TestCheckBinaryCaches(t *testing.T) {
	calls := 0
	ctx := NewGatingContext()
	ctx.lookPath = func(string) (string, error) {
		calls++
		return "/bin/x", nil
	}
	ctx.CheckBinary("x")
	ctx.CheckBinary("x")
	if calls != 1 {
		t.Errorf("lookPath called %d times, want 1", calls)
	}
}
