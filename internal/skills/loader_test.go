package skills

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeSkill(t *testing.T, root, dir, frontmatter, body string) {
	t.Helper()
	path := filepath.Join(root, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "---\n" + frontmatter + "\n---\n" + body
	if err := os.WriteFile(filepath.Join(path, SkillFilename), []byte(content), 0o644); err != nil {
		t.Fatalf("write skill: %v", err)
	}
}

func TestLoadTableAndDirectories(t *testing.T) {
	tableDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tableDir, "review.md"), []byte("review checklist"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	writeSkill(t, root, "zeta", "name: zeta\ndescription: z\ntriggers:\n  patterns: [deploy]\n  priority: 5", "zeta body")
	writeSkill(t, root, "alpha", "name: alpha\ndescription: a\ntriggers:\n  patterns: [deploy]\n  priority: 5", "alpha body")
	writeSkill(t, root, "tdd", "name: tdd\ndescription: t", "tdd body from skill dir")
	writeSkill(t, root, "notriggers", "name: notriggers\ndescription: n", "ignored")

	reg, err := Load(LoadOptions{
		Triggers: []TriggerSpec{
			{Skill: "review", Patterns: []string{"review"}, Priority: 5, Content: "file:review.md"},
			{Skill: "tdd", Patterns: []string{`/\btdd\b/`}, Priority: 1},
			{Skill: "inline", Patterns: []string{"deploy"}, Priority: 5, Content: "inline text"},
		},
		TableDir: tableDir,
		Dirs:     []string{root, filepath.Join(root, "does-not-exist")},
		Gating:   fakeGating("linux"),
	})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	var got []string
	for _, r := range reg.Rules() {
		got = append(got, r.SkillID)
	}
	want := []string{"review", "tdd", "inline", "alpha", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("insertion order = %v, want %v", got, want)
	}

	if order := ids(reg.Match("deploy now")); !reflect.DeepEqual(order, []string{"inline", "alpha", "zeta"}) {
		t.Errorf("Match order = %v", order)
	}

	content, err := reg.Content("review")
	if err != nil || content != "review checklist" {
		t.Errorf("file content = %q, %v", content, err)
	}
	content, err = reg.Content("tdd")
	if err != nil || content != "tdd body from skill dir" {
		t.Errorf("skill-dir content = %q, %v", content, err)
	}
}

func TestLoadSkipsIneligibleSkills(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "rust", "name: rust\ndescription: r\ntriggers:\n  patterns: [cargo]\nmetadata:\n  requires:\n    bins: [cargo]", "rust")

	reg, err := Load(LoadOptions{Dirs: []string{root}, Gating: fakeGating("linux")})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("Len = %d, want 0", reg.Len())
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("invalid regex", func(t *testing.T) {
		_, err := Load(LoadOptions{Triggers: []TriggerSpec{{Skill: "x", Patterns: []string{"/(/"}}}})
		if !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("err = %v, want ErrInvalidPattern", err)
		}
		var loadErr *LoadError
		if !errors.As(err, &loadErr) || loadErr.Source != "triggers[0]" {
			t.Errorf("err = %v, want LoadError for triggers[0]", err)
		}
	})

	t.Run("empty patterns", func(t *testing.T) {
		_, err := Load(LoadOptions{Triggers: []TriggerSpec{{Skill: "x"}}})
		if !errors.Is(err, ErrNoPatterns) {
			t.Errorf("err = %v, want ErrNoPatterns", err)
		}
	})

	t.Run("duplicate in table", func(t *testing.T) {
		_, err := Load(LoadOptions{Triggers: []TriggerSpec{
			{Skill: "x", Patterns: []string{"a"}, Content: "a"},
			{Skill: "x", Patterns: []string{"b"}, Content: "b"},
		}})
		if !errors.Is(err, ErrDuplicateSkill) {
			t.Errorf("err = %v, want ErrDuplicateSkill", err)
		}
	})

	t.Run("duplicate across table and directory", func(t *testing.T) {
		root := t.TempDir()
		writeSkill(t, root, "x", "name: x\ndescription: d\ntriggers:\n  patterns: [y]", "body")
		_, err := Load(LoadOptions{
			Triggers: []TriggerSpec{{Skill: "x", Patterns: []string{"a"}}},
			Dirs:     []string{root},
			Gating:   fakeGating("linux"),
		})
		if !errors.Is(err, ErrDuplicateSkill) {
			t.Errorf("err = %v, want ErrDuplicateSkill", err)
		}
	})

	t.Run("duplicate names across roots", func(t *testing.T) {
		a, b := t.TempDir(), t.TempDir()
		writeSkill(t, a, "one", "name: same\ndescription: d\ntriggers:\n  patterns: [y]", "")
		writeSkill(t, b, "two", "name: same\ndescription: d\ntriggers:\n  patterns: [z]", "")
		_, err := Load(LoadOptions{Dirs: []string{a, b}, Gating: fakeGating("linux")})
		if !errors.Is(err, ErrDuplicateSkill) {
			t.Errorf("err = %v, want ErrDuplicateSkill", err)
		}
	})

	t.Run("malformed skill file", func(t *testing.T) {
		root := t.TempDir()
		writeSkill(t, root, "bad", "description: missing name", "")
		_, err := Load(LoadOptions{Dirs: []string{root}})
		if err == nil || !strings.Contains(err.Error(), "name is required") {
			t.Errorf("err = %v", err)
		}
	})
}

func TestParseContentRef(t *testing.T) {
	if c := ParseContentRef("file:skills/a.md", "/etc/hookguard"); c.String() != "file:/etc/hookguard/skills/a.md" {
		t.Errorf("relative file ref = %s", c)
	}
	if c := ParseContentRef("file:/abs/a.md", "/etc"); c.String() != "file:/abs/a.md" {
		t.Errorf("absolute file ref = %s", c)
	}
	if c := ParseContentRef("just text", "/etc"); c.String() != "inline" {
		t.Errorf("inline ref = %s", c)
	}
}
