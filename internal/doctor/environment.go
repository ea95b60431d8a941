// Package doctor inspects the environment and configuration a hookguard
// installation runs in, and applies safe repairs.
package doctor

import (
	"os/exec"
	"sort"
	"strings"

	"github.com/haasonsaas/hookguard/internal/config"
)

// ToolStatus reports whether a binary the hooks depend on is available.
type ToolStatus struct {
	Name string
	// Candidates are tried in order; the first found wins.
	Candidates []string
	Required   bool
	// Purpose says what needs the tool.
	Purpose string

	Found string
	Path  string
}

// OK reports whether the tool was found.
func (s ToolStatus) OK() bool {
	return s.Path != ""
}

// LookPathFunc matches exec.LookPath.
type LookPathFunc func(file string) (string, error)

// baseTools are needed by the default rules, gate checks and formatters.
var baseTools = []ToolStatus{
	{Name: "git", Candidates: []string{"git"}, Required: true, Purpose: "changed-file detection and commit context"},
	{Name: "python", Candidates: []string{"python3", "python"}, Purpose: "python test and lint checks"},
	{Name: "node", Candidates: []string{"node"}, Purpose: "javascript test and lint checks"},
}

// CheckEnvironment reports the base tools plus every binary referenced by a
// gate check or formatter. A nil lookPath uses exec.LookPath.
func CheckEnvironment(cfg *config.Config, lookPath LookPathFunc) []ToolStatus {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	tools := append([]ToolStatus(nil), baseTools...)
	seen := map[string]bool{}
	for _, t := range tools {
		for _, c := range t.Candidates {
			seen[c] = true
		}
	}

	if cfg != nil {
		for _, check := range cfg.Gate.Checks {
			if len(check.Argv) == 0 || seen[check.Argv[0]] {
				continue
			}
			seen[check.Argv[0]] = true
			tools = append(tools, ToolStatus{
				Name:       check.Argv[0],
				Candidates: []string{check.Argv[0]},
				Purpose:    "gate check " + check.Name,
			})
		}

		exts := make([]string, 0, len(cfg.Formatters.Commands))
		for ext := range cfg.Formatters.Commands {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		for _, ext := range exts {
			argv := cfg.Formatters.Commands[ext]
			if len(argv) == 0 || seen[argv[0]] {
				continue
			}
			seen[argv[0]] = true
			tools = append(tools, ToolStatus{
				Name:       argv[0],
				Candidates: []string{argv[0]},
				Purpose:    "formatter for " + ext,
			})
		}
	}

	for i := range tools {
		for _, candidate := range tools[i].Candidates {
			if path, err := lookPath(candidate); err == nil {
				tools[i].Found, tools[i].Path = candidate, path
				break
			}
		}
	}
	return tools
}

// MissingRequired lists required tools that were not found.
func MissingRequired(tools []ToolStatus) []string {
	var missing []string
	for _, t := range tools {
		if t.Required && !t.OK() {
			missing = append(missing, t.Name)
		}
	}
	return missing
}

// FormatTool renders one status line.
func FormatTool(t ToolStatus) string {
	var b strings.Builder
	if t.OK() {
		b.WriteString("ok       ")
	} else if t.Required {
		b.WriteString("MISSING  ")
	} else {
		b.WriteString("missing  ")
	}
	b.WriteString(t.Name)
	if t.OK() && t.Found != t.Name {
		b.WriteString(" (" + t.Found + ")")
	}
	if t.Purpose != "" {
		b.WriteString(" - " + t.Purpose)
	}
	return b.String()
}
