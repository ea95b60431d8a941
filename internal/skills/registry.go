package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrContentMissing is returned when a skill has no resolvable content.
var ErrContentMissing = errors.New("skill content missing")

// Content resolves the text of a skill. Content is opaque to the engine.
type Content interface {
	Load() (string, error)
	String() string
}

// InlineContent is content embedded in the trigger table or a SKILL.md body.
type InlineContent string

func (c InlineContent) Load() (string, error) {
	if strings.TrimSpace(string(c)) == "" {
		return "", ErrContentMissing
	}
	return string(c), nil
}

func (c InlineContent) String() string {
	return "inline"
}

// FileContent reads skill text from a file at injection time.
type FileContent string

func (c FileContent) Load() (string, error) {
	data, err := os.ReadFile(string(c))
	if err != nil {
		return "", fmt.Errorf("read skill content: %w", err)
	}
	return string(data), nil
}

func (c FileContent) String() string {
	return "file:" + string(c)
}

// ParseContentRef interprets a trigger table content reference. "file:"
// references are resolved relative to baseDir.
func ParseContentRef(ref, baseDir string) Content {
	if path, ok := strings.CutPrefix(ref, "file:"); ok {
		path = strings.TrimSpace(path)
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		return FileContent(path)
	}
	return InlineContent(ref)
}

// Entry pairs a trigger rule with its content.
type Entry struct {
	Rule    TriggerRule
	Content Content
}

// Registry holds trigger rules in insertion order. It is immutable after
// construction and safe for concurrent reads.
type Registry struct {
	entries []Entry
	byID    map[string]int
}

// NewRegistry validates entries and builds a registry. Insertion order is
// the order of entries and is the tie-breaker for equal priorities.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if err := ValidateSkillID(e.Rule.SkillID); err != nil {
			return nil, err
		}
		if _, dup := r.byID[e.Rule.SkillID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSkill, e.Rule.SkillID)
		}
		if len(e.Rule.Patterns) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoPatterns, e.Rule.SkillID)
		}
		rule := e.Rule
		rule.Patterns = append([]Pattern(nil), e.Rule.Patterns...)
		r.byID[rule.SkillID] = len(r.entries)
		r.entries = append(r.entries, Entry{Rule: rule, Content: e.Content})
	}
	return r, nil
}

// Len returns the number of registered skills.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Rules returns the trigger rules in insertion order.
func (r *Registry) Rules() []TriggerRule {
	if r == nil {
		return nil
	}
	out := make([]TriggerRule, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Rule
	}
	return out
}

// Content resolves a skill's content.
func (r *Registry) Content(skillID string) (string, error) {
	if r == nil {
		return "", ErrContentMissing
	}
	idx, ok := r.byID[skillID]
	if !ok || r.entries[idx].Content == nil {
		return "", fmt.Errorf("%w: %s", ErrContentMissing, skillID)
	}
	return r.entries[idx].Content.Load()
}

// Match returns one result per rule with at least one matching pattern,
// ordered by ascending priority with ties in insertion order. It has no side
// effects.
func (r *Registry) Match(prompt string) []MatchResult {
	if r == nil || len(r.entries) == 0 {
		return nil
	}
	normalized := Normalize(prompt)

	var results []MatchResult
	for _, e := range r.entries {
		for _, p := range e.Rule.Patterns {
			if p.MatchString(normalized) {
				results = append(results, MatchResult{SkillID: e.Rule.SkillID, Priority: e.Rule.Priority})
				break
			}
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Priority < results[j].Priority
	})
	return results
}
