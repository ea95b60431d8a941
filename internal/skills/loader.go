package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// LoadOptions describes where triggers come from.
type LoadOptions struct {
	// Triggers is the trigger table, registered first in table order.
	Triggers []TriggerSpec
	// TableDir resolves "file:" content references.
	TableDir string
	// Dirs are skill roots. Each root's skill directories are registered
	// in lexical order after the table entries.
	Dirs []string

	Gating *GatingContext
	Logger *slog.Logger
}

// Load builds a registry from a trigger table and SKILL.md directories.
// Duplicate ids, invalid patterns and empty pattern lists are errors.
func Load(opts LoadOptions) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "skills")
	gating := opts.Gating
	if gating == nil {
		gating = NewGatingContext()
	}

	discovered, err := discover(opts.Dirs, logger)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	claimed := make(map[string]bool)

	for i, spec := range opts.Triggers {
		source := fmt.Sprintf("triggers[%d]", i)
		rule, err := compileTrigger(spec.Skill, spec.Patterns, spec.Priority)
		if err != nil {
			return nil, &LoadError{Source: source, SkillID: spec.Skill, Err: err}
		}
		var content Content
		if spec.Content != "" {
			content = ParseContentRef(spec.Content, opts.TableDir)
		} else if skill, ok := discovered.byName[spec.Skill]; ok {
			content = InlineContent(ExpandBaseDir(skill.Content, skill.Path))
			claimed[spec.Skill] = true
		}
		if content == nil {
			logger.Warn("trigger has no content source", "skill", spec.Skill)
		}
		entries = append(entries, Entry{Rule: rule, Content: content})
	}

	for _, skill := range discovered.ordered {
		if claimed[skill.Name] {
			if skill.Triggers != nil {
				return nil, &LoadError{
					Source:  filepath.Join(skill.Path, SkillFilename),
					SkillID: skill.Name,
					Err:     fmt.Errorf("%w: also defined in trigger table", ErrDuplicateSkill),
				}
			}
			continue
		}
		if skill.Triggers == nil {
			logger.Debug("skill has no triggers", "skill", skill.Name, "path", skill.Path)
			continue
		}
		if res := skill.CheckEligibility(gating); !res.Eligible {
			logger.Info("skill not eligible", "skill", skill.Name, "reason", res.Reason)
			continue
		}
		rule, err := compileTrigger(skill.Name, skill.Triggers.Patterns, skill.Triggers.Priority)
		if err != nil {
			return nil, &LoadError{Source: filepath.Join(skill.Path, SkillFilename), SkillID: skill.Name, Err: err}
		}
		entries = append(entries, Entry{
			Rule:    rule,
			Content: InlineContent(ExpandBaseDir(skill.Content, skill.Path)),
		})
	}

	registry, err := NewRegistry(entries...)
	if err != nil {
		return nil, &LoadError{Source: "registry", Err: err}
	}
	logger.Debug("skills loaded", "count", registry.Len())
	return registry, nil
}

func compileTrigger(id string, raw []string, priority int) (TriggerRule, error) {
	if err := ValidateSkillID(id); err != nil {
		return TriggerRule{}, err
	}
	if len(raw) == 0 {
		return TriggerRule{}, ErrNoPatterns
	}
	patterns := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		p, err := ParsePattern(r)
		if err != nil {
			return TriggerRule{}, err
		}
		patterns = append(patterns, p)
	}
	return TriggerRule{SkillID: id, Patterns: patterns, Priority: priority}, nil
}

type discoveredSkills struct {
	ordered []*SkillEntry
	byName  map[string]*SkillEntry
}

// discover parses <root>/<dir>/SKILL.md for every root, visiting directories
// in lexical order. A malformed SKILL.md is a load error.
func discover(roots []string, logger *slog.Logger) (*discoveredSkills, error) {
	out := &discoveredSkills{byName: make(map[string]*SkillEntry)}
	for _, root := range roots {
		dirEntries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("skill directory missing", "path", root)
				continue
			}
			return nil, &LoadError{Source: root, Err: err}
		}
		sort.Slice(dirEntries, func(i, j int) bool { return dirEntries[i].Name() < dirEntries[j].Name() })

		for _, de := range dirEntries {
			if !de.IsDir() {
				continue
			}
			path := filepath.Join(root, de.Name(), SkillFilename)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			skill, err := ParseSkillFile(path)
			if err != nil {
				return nil, &LoadError{Source: path, Err: err}
			}
			if _, dup := out.byName[skill.Name]; dup {
				return nil, &LoadError{Source: path, SkillID: skill.Name, Err: ErrDuplicateSkill}
			}
			out.byName[skill.Name] = skill
			out.ordered = append(out.ordered, skill)
		}
	}
	return out, nil
}
