// Package config loads the hookguard configuration file.
package config

import (
	"time"

	"github.com/haasonsaas/hookguard/internal/artifacts"
	"github.com/haasonsaas/hookguard/internal/audit"
	"github.com/haasonsaas/hookguard/internal/commands"
	"github.com/haasonsaas/hookguard/internal/gate"
	"github.com/haasonsaas/hookguard/internal/loop"
	"github.com/haasonsaas/hookguard/internal/observability"
	"github.com/haasonsaas/hookguard/internal/policy"
	"github.com/haasonsaas/hookguard/internal/skills"
	"github.com/haasonsaas/hookguard/internal/storage"
)

// Config is the immutable engine configuration. It is built once per
// process and passed explicitly to every component.
type Config struct {
	Version int `yaml:"version" jsonschema:"required"`

	Triggers []skills.TriggerSpec `yaml:"triggers,omitempty"`
	Skills   SkillsConfig         `yaml:"skills,omitempty"`
	Injector InjectorConfig       `yaml:"injector,omitempty"`

	Policy     PolicyConfig     `yaml:"policy,omitempty"`
	Files      FilesConfig      `yaml:"files,omitempty"`
	Commit     CommitConfig     `yaml:"commit,omitempty"`
	Formatters FormattersConfig `yaml:"formatters,omitempty"`

	Gate    GateConfig     `yaml:"gate,omitempty"`
	Loop    loop.Config    `yaml:"loop,omitempty"`
	Storage storage.Config `yaml:"storage,omitempty"`

	Audit     audit.Config              `yaml:"audit,omitempty"`
	Artifacts artifacts.Config          `yaml:"artifacts,omitempty"`
	Logging   observability.LogConfig   `yaml:"logging,omitempty"`
	Metrics   MetricsConfig             `yaml:"metrics,omitempty"`
	Tracing   observability.TraceConfig `yaml:"tracing,omitempty"`

	Gateway GatewayConfig `yaml:"gateway,omitempty"`

	// Path is the file the configuration was loaded from, if any.
	Path string `yaml:"-" json:"-"`
	// BaseDir resolves relative paths. It is the directory of Path, or the
	// working directory when no file was loaded.
	BaseDir string `yaml:"-" json:"-"`
	// Includes lists the files pulled in through $include, innermost first.
	Includes []string `yaml:"-" json:"-"`

	fileRules []policy.RuleSpec
}

// SkillsConfig lists SKILL.md roots.
type SkillsConfig struct {
	Dirs []string `yaml:"dirs,omitempty"`
}

// InjectorConfig bounds the context bundle.
type InjectorConfig struct {
	MaxSkills int `yaml:"max_skills,omitempty" jsonschema:"minimum=1"`
	// MaxBytes truncates each skill's content. Zero disables the limit.
	MaxBytes int `yaml:"max_bytes,omitempty" jsonschema:"minimum=0"`
}

// PolicyConfig holds the command rule table.
type PolicyConfig struct {
	// Builtin enables the baseline rules from DefaultRules. Defaults to true.
	Builtin *bool `yaml:"builtin,omitempty"`

	Rules []policy.RuleSpec `yaml:"rules,omitempty"`

	// RulesFile is an external versioned rule table appended after Rules.
	RulesFile string `yaml:"rules_file,omitempty"`
}

// BuiltinEnabled reports whether the baseline rules apply.
func (p PolicyConfig) BuiltinEnabled() bool {
	return p.Builtin == nil || *p.Builtin
}

// FilesConfig configures the file-operation guard.
type FilesConfig struct {
	Protected []string `yaml:"protected,omitempty"`
}

// CommitConfig configures the commit-message guard.
type CommitConfig struct {
	Disabled       bool   `yaml:"disabled,omitempty"`
	ForbiddenChars string `yaml:"forbidden_chars,omitempty"`
	MaxLength      int    `yaml:"max_length,omitempty" jsonschema:"minimum=0"`
}

// FormattersConfig maps file extensions to formatter argv.
type FormattersConfig struct {
	Timeout  time.Duration       `yaml:"timeout,omitempty"`
	Commands map[string][]string `yaml:"commands,omitempty"`
}

// GateConfig configures the turn completion gate.
type GateConfig struct {
	Mode   gate.Mode          `yaml:"mode,omitempty" jsonschema:"enum=advisory,enum=strict"`
	Checks []gate.CommandSpec `yaml:"checks,omitempty"`
}

// MetricsConfig configures the textfile collector output.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Textfile string `yaml:"textfile,omitempty"`
}

// GatewayConfig configures chat command routing.
type GatewayConfig struct {
	Prefixes []string `yaml:"prefixes,omitempty"`
	// Commands add to or replace the default mappings by name.
	Commands []commands.MappingSpec `yaml:"commands,omitempty"`
}

// Defaults.
const (
	DefaultFileName        = "hookguard.yaml"
	DefaultStateDir        = ".hookguard"
	DefaultMaxSkills       = 2
	DefaultFormatTimeout   = 30 * time.Second
	DefaultMetricsTextfile = ".hookguard/metrics.prom"
	DefaultServiceName     = "hookguard"
)

// DefaultProtectedPaths are never written by file tools unless
// files.protected is set explicitly.
var DefaultProtectedPaths = []string{
	".env",
	".env.*",
	"**/.env",
	".git/**",
	"**/*.pem",
	"**/id_rsa",
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Injector.MaxSkills == 0 {
		cfg.Injector.MaxSkills = DefaultMaxSkills
	}
	if cfg.Files.Protected == nil {
		cfg.Files.Protected = append([]string(nil), DefaultProtectedPaths...)
	}
	if cfg.Formatters.Timeout == 0 {
		cfg.Formatters.Timeout = DefaultFormatTimeout
	}
	if cfg.Gate.Mode == "" {
		cfg.Gate.Mode = gate.ModeAdvisory
	}

	defaults := loop.DefaultConfig()
	if cfg.Loop.Hard == (loop.Thresholds{}) {
		cfg.Loop.Hard = defaults.Hard
	}
	if cfg.Loop.Soft == (loop.Thresholds{}) {
		cfg.Loop.Soft = defaults.Soft
	}
	if cfg.Loop.ExitSentinel == "" {
		cfg.Loop.ExitSentinel = defaults.ExitSentinel
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = storage.DialectSQLite
	}
	if cfg.Storage.Driver == storage.DialectSQLite && cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStateDir + "/state.db"
	}

	auditDefaults := audit.DefaultConfig()
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = auditDefaults.Output
	}
	if cfg.Audit.MaxFieldSize == 0 {
		cfg.Audit.MaxFieldSize = auditDefaults.MaxFieldSize
	}

	if cfg.Artifacts.Backend == "" {
		cfg.Artifacts.Backend = artifacts.BackendLocal
	}
	if cfg.Artifacts.Backend == artifacts.BackendLocal && cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = artifacts.DefaultDir
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Metrics.Textfile == "" {
		cfg.Metrics.Textfile = DefaultMetricsTextfile
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultServiceName
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}

	if len(cfg.Gateway.Prefixes) == 0 {
		cfg.Gateway.Prefixes = append([]string(nil), commands.DefaultPrefixes...)
	}
}
