package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFilename is the file a skill directory must contain.
const SkillFilename = "SKILL.md"

const fence = "---"

var (
	errEmptySkill    = errors.New("empty file")
	errNoOpenFence   = errors.New("missing opening frontmatter delimiter")
	errNoClosedFence = errors.New("missing closing frontmatter delimiter")
)

// ParseSkillFile reads and parses a SKILL.md. The entry's Path is the
// directory holding the file.
func ParseSkillFile(path string) (*SkillEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseSkill(data, filepath.Dir(path))
}

// ParseSkill parses YAML frontmatter between "---" fences followed by a
// markdown body. A UTF-8 BOM and CRLF line endings are accepted.
func ParseSkill(data []byte, skillPath string) (*SkillEntry, error) {
	front, body, err := cutFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var entry SkillEntry
	if err := yaml.Unmarshal([]byte(front), &entry); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if err := ValidateSkill(&entry); err != nil {
		return nil, err
	}
	entry.Content = strings.TrimSpace(body)
	entry.Path = skillPath
	return &entry, nil
}

func cutFrontmatter(doc string) (front, body string, err error) {
	doc = strings.TrimPrefix(doc, "\ufeff")
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	if strings.TrimSpace(doc) == "" {
		return "", "", errEmptySkill
	}

	first, rest, _ := strings.Cut(doc, "\n")
	if strings.TrimSpace(first) != fence {
		return "", "", errNoOpenFence
	}
	var lines []string
	for rest != "" {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		if strings.TrimSpace(line) == fence {
			return strings.Join(lines, "\n"), rest, nil
		}
		lines = append(lines, line)
	}
	return "", "", errNoClosedFence
}

// ValidateSkill requires a valid skill id and a description.
func ValidateSkill(entry *SkillEntry) error {
	if entry.Name == "" {
		return errors.New("skill name is required")
	}
	if err := ValidateSkillID(entry.Name); err != nil {
		return err
	}
	if entry.Description == "" {
		return errors.New("skill description is required")
	}
	return nil
}

// ExpandBaseDir substitutes the skill's directory for {baseDir}.
func ExpandBaseDir(content, baseDir string) string {
	return strings.ReplaceAll(content, "{baseDir}", baseDir)
}
