package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/hookguard/internal/artifacts"
	"github.com/haasonsaas/hookguard/internal/storage"
)

// includeKeys name the directive that pulls other files in beneath the
// current one. Keys in the including file win.
var includeKeys = []string{"$include", "include"}

// document is one parsed config file plus the files it included.
type document struct {
	values   map[string]any
	included []string
}

// includeStack tracks the files being loaded so a cycle can be reported
// with its full chain.
type includeStack []string

func (s includeStack) contains(path string) bool {
	for _, p := range s {
		if p == path {
			return true
		}
	}
	return false
}

func loadDocument(path string) (*document, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	return readDocument(path, nil)
}

func readDocument(path string, stack includeStack) (*document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if stack.contains(abs) {
		return nil, fmt.Errorf("config include cycle: %s -> %s", strings.Join(stack, " -> "), abs)
	}
	stack = append(stack, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	values, err := decodeRaw(data, abs)
	if err != nil {
		return nil, err
	}
	expandEnv(values)
	includes, err := takeIncludes(values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	doc := &document{values: map[string]any{}}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		child, err := readDocument(inc, stack)
		if err != nil {
			return nil, err
		}
		overlay(doc.values, child.values)
		doc.included = append(doc.included, child.included...)
		doc.included = append(doc.included, filepath.Clean(inc))
	}
	overlay(doc.values, values)
	return doc, nil
}

// expandEnv substitutes $VAR and ${VAR} in string values, recursing into
// maps and lists. Keys are left alone so "$include" keeps its meaning.
func expandEnv(values map[string]any) {
	for k, v := range values {
		values[k] = expandValue(v)
	}
}

func expandValue(v any) any {
	switch t := v.(type) {
	case string:
		return os.ExpandEnv(t)
	case map[string]any:
		expandEnv(t)
	case []any:
		for i := range t {
			t[i] = expandValue(t[i])
		}
	}
	return v
}

// decodeRaw parses YAML, or JSON5 when the file extension says so.
func decodeRaw(data []byte, name string) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := singleDocument(dec); err != nil {
			return nil, err
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func singleDocument(dec *yaml.Decoder) error {
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("expected a single YAML document")
	}
	return nil
}

// takeIncludes removes the include directive from values and returns its
// non-blank paths.
func takeIncludes(values map[string]any) ([]string, error) {
	var directive any
	for _, key := range includeKeys {
		if v, ok := values[key]; ok {
			directive = v
			delete(values, key)
			break
		}
	}

	var paths []string
	switch v := directive.(type) {
	case nil:
	case string:
		paths = []string{v}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings, got %T", item)
			}
			paths = append(paths, s)
		}
	default:
		return nil, fmt.Errorf("include must be a string or a list of strings, got %T", directive)
	}

	out := paths[:0]
	for _, p := range paths {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// overlay deep-merges src into dst. Nested maps merge; anything else in src
// replaces what dst had.
func overlay(dst, src map[string]any) {
	for key, sv := range src {
		sm, srcIsMap := sv.(map[string]any)
		dm, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			overlay(dm, sm)
			continue
		}
		dst[key] = sv
	}
}

// decodeStrict round-trips raw through YAML into T so unknown keys are
// rejected the same way for YAML and JSON5 sources.
func decodeStrict[T any](raw map[string]any) (*T, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	var out T
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &out, nil
}

// EnvConfigPath overrides the default configuration path.
const EnvConfigPath = "HOOKGUARD_CONFIG"

// ResolvePath picks the configuration file: an explicit flag value, then
// $HOOKGUARD_CONFIG, then DefaultFileName. explicit reports whether the
// path was requested rather than defaulted.
func ResolvePath(flag string, getenv func(string) string) (path string, explicit bool) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if p := strings.TrimSpace(flag); p != "" {
		return p, true
	}
	if p := strings.TrimSpace(getenv(EnvConfigPath)); p != "" {
		return p, true
	}
	return DefaultFileName, false
}

// Load reads, validates and resolves the configuration at path.
func Load(path string) (*Config, error) {
	doc, err := loadDocument(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	raw := doc.values
	if err := ValidateVersion(rawVersion(raw)); err != nil {
		return nil, err
	}
	if rules, ok := raw["policy"].(map[string]any); ok && rules["rules"] != nil {
		table := map[string]any{"version": RuleTableVersion, "rules": rules["rules"]}
		if err := ValidateRuleTable(table); err != nil {
			return nil, fmt.Errorf("policy.rules: %w", err)
		}
	}

	cfg, err := decodeStrict[Config](raw)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg.Path = abs
	cfg.BaseDir = filepath.Dir(abs)
	cfg.Includes = doc.included

	applyDefaults(cfg)
	if err := cfg.loadRulesFile(); err != nil {
		return nil, err
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path. A missing file that was not explicitly
// requested yields Default rooted at the working directory.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			if wd, err := os.Getwd(); err == nil {
				cfg.BaseDir = wd
			}
			cfg.resolvePaths()
			return cfg, cfg.Validate()
		}
	}
	return Load(path)
}

func (c *Config) resolvePaths() {
	for i, dir := range c.Skills.Dirs {
		c.Skills.Dirs[i] = c.resolve(dir)
	}
	if c.Storage.Driver == storage.DialectSQLite {
		c.Storage.Path = c.resolve(c.Storage.Path)
	}
	if strings.HasPrefix(c.Audit.Output, "file:") {
		c.Audit.Output = "file:" + c.resolve(strings.TrimPrefix(c.Audit.Output, "file:"))
	} else if c.Audit.Output != "stderr" && c.Audit.Output != "stdout" {
		c.Audit.Output = c.resolve(c.Audit.Output)
	}
	if c.Artifacts.Backend == artifacts.BackendLocal {
		c.Artifacts.Dir = c.resolve(c.Artifacts.Dir)
	}
	c.Metrics.Textfile = c.resolve(c.Metrics.Textfile)
}

// rawVersion reads the version key as decoded by either YAML or JSON5.
func rawVersion(raw map[string]any) int {
	switch v := raw["version"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
