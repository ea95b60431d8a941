// Package skills selects expertise modules for a prompt. A Registry maps
// skill identifiers to trigger patterns and a priority; Match returns the
// skills whose patterns fire on a normalized prompt, and an Injector renders
// their content as a delimited context bundle.
package skills

import (
	"errors"
	"fmt"
	"regexp"
)

// Registry load errors. All of them are fatal configuration errors.
var (
	ErrDuplicateSkill = errors.New("duplicate skill id")
	ErrInvalidSkillID = errors.New("invalid skill id")
	ErrNoPatterns     = errors.New("trigger has no patterns")
	ErrInvalidPattern = errors.New("invalid pattern")
)

// LoadError reports which trigger source failed to load.
type LoadError struct {
	Source  string
	SkillID string
	Err     error
}

func (e *LoadError) Error() string {
	if e.SkillID == "" {
		return fmt.Sprintf("%s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s: skill %q: %v", e.Source, e.SkillID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

var skillIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateSkillID checks that an id is usable as a delimiter attribute.
func ValidateSkillID(id string) error {
	if !skillIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSkillID, id)
	}
	return nil
}

// TriggerRule maps a skill to its patterns. Lower Priority values take
// precedence. Rules are immutable once registered.
type TriggerRule struct {
	SkillID  string
	Patterns []Pattern
	Priority int
}

// MatchResult is one matched skill for a prompt.
type MatchResult struct {
	SkillID  string `json:"skill_id"`
	Priority int    `json:"priority"`
}

// TriggerSpec is the on-disk form of a trigger table entry.
type TriggerSpec struct {
	Skill    string   `yaml:"skill" json:"skill" jsonschema:"required,minLength=1"`
	Patterns []string `yaml:"patterns" json:"patterns" jsonschema:"required,minItems=1"`
	Priority int      `yaml:"priority" json:"priority"`

	// Content is inline text or a "file:" reference relative to the table.
	// Empty content resolves to the body of a SKILL.md with the same name.
	Content string `yaml:"content,omitempty" json:"content,omitempty"`
}

// SkillEntry is a parsed SKILL.md file.
type SkillEntry struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Triggers    *SkillTriggers `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Metadata    *SkillMetadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Content is the markdown body.
	Content string `yaml:"-" json:"-"`

	// Path is the directory containing the SKILL.md.
	Path string `yaml:"-" json:"path"`
}

// SkillTriggers declares how a SKILL.md is selected.
type SkillTriggers struct {
	Patterns []string `yaml:"patterns" json:"patterns"`
	Priority int      `yaml:"priority" json:"priority"`
}

// SkillMetadata carries gating hints.
type SkillMetadata struct {
	// Always skips all gating checks if true.
	Always bool `yaml:"always" json:"always,omitempty"`

	// OS restricts the skill to specific platforms.
	OS []string `yaml:"os" json:"os,omitempty"`

	Requires *SkillRequires `yaml:"requires" json:"requires,omitempty"`
}

// SkillRequires lists what must be present for a skill to be eligible.
type SkillRequires struct {
	Bins    []string `yaml:"bins" json:"bins,omitempty"`
	AnyBins []string `yaml:"anyBins" json:"anyBins,omitempty"`
	Env     []string `yaml:"env" json:"env,omitempty"`
}
