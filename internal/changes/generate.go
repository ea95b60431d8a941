package changes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/haasonsaas/hookguard/internal/format"
)

// Source lists changed files and produces their diffs.
type Source interface {
	Files(ctx context.Context) ([]string, error)
	Diff(ctx context.Context, file string) (string, error)
	Mode() Mode
}

// GitSource reads staged changes, or the diff between Base and Head when
// both are set.
type GitSource struct {
	Dir  string
	Base string
	Head string

	run func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewGitSource validates the ref pair.
func NewGitSource(dir, base, head string) (*GitSource, error) {
	if (base == "") != (head == "") {
		return nil, errors.New("changes: base and head must be given together")
	}
	return &GitSource{Dir: dir, Base: base, Head: head, run: runGit}, nil
}

func (s *GitSource) Mode() Mode {
	if s.Base != "" {
		return ModePRDiff
	}
	return ModeStaged
}

func (s *GitSource) Files(ctx context.Context) ([]string, error) {
	args := []string{"diff", "--cached", "--name-only", "--diff-filter=ACMRD"}
	if s.Base != "" {
		args = []string{"diff", "--name-only", "--diff-filter=ACMRD", s.Base + "..." + s.Head}
	}
	out, err := s.run(ctx, s.Dir, args...)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (s *GitSource) Diff(ctx context.Context, file string) (string, error) {
	if s.Base != "" {
		return s.run(ctx, s.Dir, "diff", s.Base+"..."+s.Head, "--", file)
	}
	return s.run(ctx, s.Dir, "diff", "--cached", "--", file)
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}

// Generate builds the change context from src. A failed per-file diff is
// counted as zero changed lines.
func Generate(ctx context.Context, src Source, now time.Time) (*Context, error) {
	files, err := src.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("list changed files: %w", err)
	}
	c := &Context{
		Files:      files,
		Categories: make(map[string][]string),
		FileStats:  make(map[string]DiffStats, len(files)),
		Timestamp:  now,
		Mode:       src.Mode(),
	}
	if len(files) == 0 {
		c.Summary = "No changes detected"
		c.ChangeType = TypeNone
		return c, nil
	}

	for _, f := range files {
		cat := Categorize(f)
		c.Categories[cat] = append(c.Categories[cat], f)

		diff, err := src.Diff(ctx, f)
		if err != nil {
			diff = ""
		}
		stats := AnalyzeDiff(diff)
		c.FileStats[f] = stats
		c.TotalAdditions += stats.Additions
		c.TotalDeletions += stats.Deletions
	}
	c.ChangeType = InferType(c.Categories, c.FileStats)
	c.Summary = fmt.Sprintf("%s changed (+%d/-%d)", format.Plural(len(files), "file"), c.TotalAdditions, c.TotalDeletions)
	return c, nil
}

// Markdown renders the context for reviewers.
func (c *Context) Markdown() string {
	mode := "Staged Changes"
	if c.Mode == ModePRDiff {
		mode = "PR Diff"
	}
	var b strings.Builder
	b.WriteString("# Commit Context\n\n")
	fmt.Fprintf(&b, "**Generated:** %s\n", c.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Mode:** %s\n", mode)
	fmt.Fprintf(&b, "**Change Type:** `%s`\n\n", c.ChangeType)
	b.WriteString("## Summary\n\n")
	b.WriteString(c.Summary)
	b.WriteString("\n\n")

	if len(c.Categories) > 0 {
		b.WriteString("## Changes by Category\n\n")
		for _, cat := range sortedKeys(c.Categories) {
			fmt.Fprintf(&b, "### %s\n", titleCase(cat))
			for _, f := range c.Categories[cat] {
				s := c.FileStats[f]
				fmt.Fprintf(&b, "- `%s` (+%d/-%d)\n", f, s.Additions, s.Deletions)
			}
			b.WriteString("\n")
		}
	}

	if patterns := c.Patterns(); len(patterns) > 0 {
		b.WriteString("## Detected Patterns\n\n")
		for _, p := range patterns {
			fmt.Fprintf(&b, "- %s\n", p.Describe())
		}
		b.WriteString("\n")
	}
	return b.String()
}

// JSON renders the machine-readable form.
func (c *Context) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Report is the short terminal summary printed after artifacts are saved.
func (c *Context) Report(saved []string) string {
	var b strings.Builder
	mode := "staged changes"
	if c.Mode == ModePRDiff {
		mode = "PR diff"
	}
	rule := strings.Repeat("=", 40)
	fmt.Fprintf(&b, "Commit Context Generated (%s)\n%s\n", mode, rule)
	fmt.Fprintf(&b, "Type: %s\nFiles: %d\nChanges: +%d/-%d\n\nCategories:\n", c.ChangeType, len(c.Files), c.TotalAdditions, c.TotalDeletions)
	for _, cat := range sortedKeys(c.Categories) {
		fmt.Fprintf(&b, "  - %s: %s\n", cat, format.Plural(len(c.Categories[cat]), "file"))
	}
	b.WriteString("\n")
	for _, ref := range saved {
		fmt.Fprintf(&b, "Context saved to: %s\n", ref)
	}
	b.WriteString(rule + "\n")
	return b.String()
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// titleCase turns "ci-cd" into "Ci Cd".
func titleCase(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "-", " "))
}
