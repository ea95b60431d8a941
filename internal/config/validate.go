package config

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/hookguard/internal/artifacts"
	"github.com/haasonsaas/hookguard/internal/gate"
	"github.com/haasonsaas/hookguard/internal/hooks"
	"github.com/haasonsaas/hookguard/internal/policy"
	"github.com/haasonsaas/hookguard/internal/skills"
	"github.com/haasonsaas/hookguard/internal/storage"
)

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// Validate checks every section. It compiles rules, globs and checks the
// same way the engine will, so a config that validates also builds.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("version: %v", err)
	}

	seen := make(map[string]bool, len(c.Triggers))
	for i, tr := range c.Triggers {
		if err := skills.ValidateSkillID(tr.Skill); err != nil {
			add("triggers[%d].skill: %v", i, err)
		}
		if seen[tr.Skill] {
			add("triggers[%d].skill: duplicate skill %q", i, tr.Skill)
		}
		seen[tr.Skill] = true
		if len(tr.Patterns) == 0 {
			add("triggers[%d].patterns: at least one pattern is required", i)
		}
		for j, raw := range tr.Patterns {
			if _, err := skills.ParsePattern(raw); err != nil {
				add("triggers[%d].patterns[%d]: %v", i, j, err)
			}
		}
	}

	if c.Injector.MaxSkills < 1 {
		add("injector.max_skills must be at least 1")
	}
	if c.Injector.MaxBytes < 0 {
		add("injector.max_bytes must not be negative")
	}

	if _, err := policy.NewTable(c.Rules()); err != nil {
		add("policy: %v", err)
	}
	if _, err := hooks.NewFileGuard(c.Files.Protected); err != nil {
		add("files.protected: %v", err)
	}
	if c.Commit.MaxLength < 0 {
		add("commit.max_length must not be negative")
	}
	if _, err := hooks.NewFormatter(c.Formatters.Commands, c.Formatters.Timeout, nil); err != nil {
		add("formatters: %v", err)
	}

	if !c.Gate.Mode.Valid() {
		add("gate.mode must be %q or %q", gate.ModeAdvisory, gate.ModeStrict)
	}
	names := make(map[string]bool, len(c.Gate.Checks))
	for i, spec := range c.Gate.Checks {
		if _, err := gate.NewCommandCheck(spec, c.BaseDir); err != nil {
			add("gate.checks[%d]: %v", i, err)
		}
		if names[spec.Name] {
			add("gate.checks[%d]: duplicate check %q", i, spec.Name)
		}
		names[spec.Name] = true
	}

	if err := c.Loop.Validate(); err != nil {
		add("%v", err)
	}

	switch c.Storage.Driver {
	case storage.DialectSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			add("storage.path is required for sqlite")
		}
	case storage.DialectPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add("storage.dsn is required for postgres")
		}
	default:
		add("storage.driver must be %q or %q", storage.DialectSQLite, storage.DialectPostgres)
	}

	if strings.EqualFold(strings.TrimSpace(c.Audit.Output), "stdout") {
		add("audit.output cannot be stdout; it carries the hook response")
	}
	if c.Audit.MaxFieldSize < 0 {
		add("audit.max_field_size must not be negative")
	}

	switch c.Artifacts.Backend {
	case artifacts.BackendLocal:
	case artifacts.BackendS3:
		if c.Artifacts.S3 == nil || strings.TrimSpace(c.Artifacts.S3.Bucket) == "" {
			add("artifacts.s3.bucket is required for the s3 backend")
		}
	default:
		add("artifacts.backend must be %q or %q", artifacts.BackendLocal, artifacts.BackendS3)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format %q is not json or text", c.Logging.Format)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	for i, prefix := range c.Gateway.Prefixes {
		if strings.TrimSpace(prefix) == "" {
			add("gateway.prefixes[%d] is empty", i)
		}
	}
	for i, spec := range c.Gateway.Commands {
		if err := spec.Validate(); err != nil {
			add("gateway.commands[%d]: %v", i, err)
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
