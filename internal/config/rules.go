package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/hookguard/internal/policy"
)

// RuleTable is the on-disk form of an external rule table.
type RuleTable struct {
	Version int               `yaml:"version" jsonschema:"required,minimum=1"`
	Rules   []policy.RuleSpec `yaml:"rules"`
}

// RuleTableVersion is the supported rule table version.
const RuleTableVersion = 1

// DefaultRules is the baseline rule table. A configured rule with the same
// id replaces the baseline entry.
func DefaultRules() []policy.RuleSpec {
	return []policy.RuleSpec{
		{ID: "no-root-wipe", Class: policy.ClassDeny, CommandPrefix: "rm -rf /", Reason: "recursive delete of the filesystem root"},
		{ID: "no-home-wipe", Class: policy.ClassDeny, CommandPrefix: "rm -rf ~", Reason: "recursive delete of the home directory"},
		{ID: "no-cwd-wipe", Class: policy.ClassDeny, CommandPrefix: "rm -rf .", Reason: "recursive delete of the working tree"},
		{ID: "no-force-push", Class: policy.ClassDeny, CommandPrefix: "git push --force", Reason: "force push rewrites shared history"},
		{ID: "no-force-push-short", Class: policy.ClassDeny, CommandPrefix: "git push -f", Reason: "force push rewrites shared history"},
		{ID: "no-mkfs", Class: policy.ClassDeny, CommandPrefix: "mkfs*", Reason: "formats a filesystem"},
		{ID: "no-world-writable-root", Class: policy.ClassDeny, CommandPrefix: "chmod -R 777 /", Reason: "makes the filesystem world writable"},
		{ID: "no-raw-disk-write", Class: policy.ClassDeny, Regex: `^dd\s.*\bof=/dev/(sd|hd|nvme|disk|mmcblk)`, Reason: "writes directly to a block device"},

		{ID: "confirm-push", Class: policy.ClassAsk, CommandPrefix: "git push", Reason: "pushes to a remote"},
		{ID: "confirm-hard-reset", Class: policy.ClassAsk, CommandPrefix: "git reset --hard", Reason: "discards local changes"},
		{ID: "confirm-clean", Class: policy.ClassAsk, CommandPrefix: "git clean", Reason: "deletes untracked files"},
		{ID: "confirm-npm-publish", Class: policy.ClassAsk, CommandPrefix: "npm publish", Reason: "publishes a package"},

		{ID: "allow-git-status", Class: policy.ClassAllow, CommandPrefix: "git status"},
		{ID: "allow-git-diff", Class: policy.ClassAllow, CommandPrefix: "git diff"},
		{ID: "allow-git-log", Class: policy.ClassAllow, CommandPrefix: "git log"},
		{ID: "allow-ls", Class: policy.ClassAllow, CommandPrefix: "ls"},
		{ID: "allow-pwd", Class: policy.ClassAllow, CommandPrefix: "pwd"},
		{ID: "allow-go-test", Class: policy.ClassAllow, CommandPrefix: "go test"},
		{ID: "allow-go-vet", Class: policy.ClassAllow, CommandPrefix: "go vet"},
		{ID: "allow-npm-test", Class: policy.ClassAllow, CommandPrefix: "npm test"},
		{ID: "allow-pytest", Class: policy.ClassAllow, CommandPrefix: "pytest"},
	}
}

// Rules returns the effective rule table: configured rules, then rules from
// RulesFile, then the baseline entries not overridden by id.
func (c *Config) Rules() []policy.RuleSpec {
	out := make([]policy.RuleSpec, 0, len(c.Policy.Rules)+len(c.fileRules)+32)
	out = append(out, c.Policy.Rules...)
	out = append(out, c.fileRules...)
	if !c.Policy.BuiltinEnabled() {
		return out
	}
	seen := make(map[string]bool, len(out))
	for _, r := range out {
		seen[r.ID] = true
	}
	for _, r := range DefaultRules() {
		if !seen[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// LoadRuleTable reads and validates an external rule table (YAML or JSON5).
func LoadRuleTable(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	raw, err := decodeRaw(data, path)
	if err != nil {
		return nil, fmt.Errorf("parse rule table %s: %w", path, err)
	}
	expandEnv(raw)
	if err := ValidateRuleTable(raw); err != nil {
		return nil, fmt.Errorf("rule table %s: %w", path, err)
	}
	table, err := decodeStrict[RuleTable](raw)
	if err != nil {
		return nil, fmt.Errorf("rule table %s: %w", path, err)
	}
	if table.Version != RuleTableVersion {
		return nil, fmt.Errorf("rule table %s: unsupported version %d (current: %d)", path, table.Version, RuleTableVersion)
	}
	if _, err := policy.NewTable(table.Rules); err != nil {
		return nil, fmt.Errorf("rule table %s: %w", path, err)
	}
	return table, nil
}

// ValidateRuleTable checks a decoded rule table against RulesSchema.
func ValidateRuleTable(raw any) error {
	schema, err := compiledRulesSchema()
	if err != nil {
		return fmt.Errorf("compile rules schema: %w", err)
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode rule table: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode rule table: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("rule table invalid: %w", err)
	}
	return nil
}

func (c *Config) loadRulesFile() error {
	if strings.TrimSpace(c.Policy.RulesFile) == "" {
		return nil
	}
	path := c.resolve(c.Policy.RulesFile)
	table, err := LoadRuleTable(path)
	if err != nil {
		return err
	}
	c.Policy.RulesFile = path
	c.fileRules = table.Rules
	return nil
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.BaseDir == "" {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}
