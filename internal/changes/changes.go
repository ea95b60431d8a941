// Package changes summarizes a set of changed files for commit and review
// context: files are categorized, their diffs scanned for notable patterns
// and a conventional change type is inferred.
package changes

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/hookguard/internal/loop"
)

// File categories.
const (
	CategoryDocumentation = "documentation"
	CategoryAIConfig      = "ai-config"
	CategoryDependencies  = "dependencies"
	CategoryConfiguration = "configuration"
	CategoryTests         = "tests"
	CategoryCI            = "ci-cd"
	CategoryHooks         = "hooks"
	CategoryCommands      = "commands"
	CategorySkills        = "skills"
	CategoryAgents        = "agents"
	CategoryOther         = "other"
)

var specialNames = map[string]string{
	"readme.md":          CategoryDocumentation,
	"readme.rst":         CategoryDocumentation,
	"readme.txt":         CategoryDocumentation,
	"readme":             CategoryDocumentation,
	"claude.md":          CategoryAIConfig,
	"agents.md":          CategoryAIConfig,
	"package.json":       CategoryDependencies,
	"pyproject.toml":     CategoryDependencies,
	"cargo.toml":         CategoryDependencies,
	"go.mod":             CategoryDependencies,
	"go.sum":             CategoryDependencies,
	".gitignore":         CategoryConfiguration,
	".env.example":       CategoryConfiguration,
	"dockerfile":         CategoryConfiguration,
	"docker-compose.yml": CategoryConfiguration,
	"hookguard.yaml":     CategoryConfiguration,
}

var testSuffixes = []string{"_test.go", "_test.py", ".test.ts", ".test.js", ".spec.ts", ".spec.js"}

var extCategories = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".ts":    "typescript",
	".tsx":   "react",
	".jsx":   "react",
	".go":    "golang",
	".rs":    "rust",
	".sh":    "shell",
	".bash":  "shell",
	".yml":   CategoryConfiguration,
	".yaml":  CategoryConfiguration,
	".json":  CategoryConfiguration,
	".json5": CategoryConfiguration,
	".toml":  CategoryConfiguration,
	".md":    CategoryDocumentation,
	".sql":   "database",
	".css":   "styles",
	".scss":  "styles",
	".html":  "markup",
}

// Categorize assigns a slash-separated repository path to a category.
func Categorize(file string) string {
	file = path.Clean(strings.ReplaceAll(file, "\\", "/"))
	name := strings.ToLower(path.Base(file))
	parts := strings.Split(file, "/")
	has := func(dir string) bool {
		for _, p := range parts[:len(parts)-1] {
			if p == dir {
				return true
			}
		}
		return false
	}

	if cat, ok := specialNames[name]; ok {
		return cat
	}

	if has("tests") || has("test") || has("__tests__") || has("testdata") || strings.HasPrefix(name, "test_") {
		return CategoryTests
	}
	for _, suffix := range testSuffixes {
		if strings.HasSuffix(name, suffix) {
			return CategoryTests
		}
	}

	switch {
	case has(".github"):
		return CategoryCI
	case has(".claude") || has(".hookguard"):
		for _, dir := range []string{CategoryHooks, CategoryCommands, CategorySkills, CategoryAgents} {
			if has(dir) {
				return dir
			}
		}
		return CategoryAIConfig
	case has("docs") || has("documentation"):
		return CategoryDocumentation
	}

	if cat, ok := extCategories[strings.ToLower(path.Ext(name))]; ok {
		return cat
	}
	return CategoryOther
}

// Pattern is a notable kind of added line.
type Pattern string

const (
	PatternNewFunction    Pattern = "new_function"
	PatternNewClass       Pattern = "new_class"
	PatternImportsChanged Pattern = "imports_changed"
	PatternTestsAdded     Pattern = "tests_added"
	PatternErrorHandling  Pattern = "error_handling"
	PatternCommentsAdded  Pattern = "comments_added"
)

var patternDescriptions = map[Pattern]string{
	PatternNewFunction:    "New functions/methods added",
	PatternNewClass:       "New classes or types defined",
	PatternImportsChanged: "Import statements modified",
	PatternTestsAdded:     "Test cases added",
	PatternErrorHandling:  "Error handling added/modified",
	PatternCommentsAdded:  "Comments/documentation added",
}

// Describe returns a human-readable label for the pattern.
func (p Pattern) Describe() string {
	if d, ok := patternDescriptions[p]; ok {
		return d
	}
	return strings.ReplaceAll(string(p), "_", " ")
}

// DiffStats summarizes one file's unified diff.
type DiffStats struct {
	Additions int              `json:"additions"`
	Deletions int              `json:"deletions"`
	Patterns  map[Pattern]bool `json:"patterns,omitempty"`
}

// AnalyzeDiff counts added and removed lines and flags patterns in the
// added lines.
func AnalyzeDiff(diff string) DiffStats {
	stats := DiffStats{Patterns: make(map[Pattern]bool)}
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			continue
		case strings.HasPrefix(line, "-"):
			stats.Deletions++
			continue
		case !strings.HasPrefix(line, "+"):
			continue
		}
		stats.Additions++

		content := strings.TrimSpace(line[1:])
		lower := strings.ToLower(content)
		if hasAnyPrefix(content, "def ", "function ", "func ") {
			stats.Patterns[PatternNewFunction] = true
		}
		if hasAnyPrefix(content, "class ") || (strings.HasPrefix(content, "type ") && strings.Contains(content, " struct")) {
			stats.Patterns[PatternNewClass] = true
		}
		if hasAnyPrefix(content, "import ", "from ") || content == "import (" {
			stats.Patterns[PatternImportsChanged] = true
		}
		if strings.Contains(lower, "test") && (strings.Contains(content, "def ") || strings.Contains(content, "it(") ||
			strings.Contains(content, "describe(") || strings.HasPrefix(content, "func Test")) {
			stats.Patterns[PatternTestsAdded] = true
		}
		if strings.Contains(content, "try:") || strings.Contains(content, "catch") || strings.Contains(content, "except") ||
			strings.HasPrefix(content, "if err != nil") {
			stats.Patterns[PatternErrorHandling] = true
		}
		if hasAnyPrefix(content, "#", "//", "/*") {
			stats.Patterns[PatternCommentsAdded] = true
		}
	}
	return stats
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Change types.
const (
	TypeNone       = "none"
	TypeTest       = "test"
	TypeTestUpdate = "test-update"
	TypeCI         = "ci"
	TypeDocs       = "docs"
	TypeDeps       = "deps"
	TypeFeat       = "feat"
	TypeRefactor   = "refactor"
	TypeChore      = "chore"
)

// InferType picks a conventional change type from the categories present
// and the per-file diff stats.
func InferType(categories map[string][]string, stats map[string]DiffStats) string {
	if len(categories) == 0 {
		return TypeNone
	}
	anyFile := func(p Pattern) bool {
		for _, s := range stats {
			if s.Patterns[p] {
				return true
			}
		}
		return false
	}
	has := func(cat string) bool {
		_, ok := categories[cat]
		return ok
	}

	switch {
	case has(CategoryTests):
		if anyFile(PatternTestsAdded) {
			return TypeTest
		}
		return TypeTestUpdate
	case has(CategoryCI) || has(CategoryHooks):
		return TypeCI
	case has(CategoryDocumentation) && len(categories) == 1:
		return TypeDocs
	case has(CategoryDependencies):
		return TypeDeps
	case anyFile(PatternNewFunction) || anyFile(PatternNewClass):
		return TypeFeat
	case has(CategoryAIConfig) || has(CategoryCommands) || has(CategorySkills):
		return TypeFeat
	}

	var adds, dels int
	for _, s := range stats {
		adds += s.Additions
		dels += s.Deletions
	}
	switch {
	case dels > adds*2:
		return TypeRefactor
	case adds > 0:
		return TypeFeat
	default:
		return TypeChore
	}
}

// LoopCategory classifies an iteration's work from the files it touched:
// only tests is testing, only documentation is documentation, anything
// else is implementation. No files yields "".
func LoopCategory(files []string) loop.Category {
	if len(files) == 0 {
		return ""
	}
	tests, docs := 0, 0
	for _, f := range files {
		switch Categorize(f) {
		case CategoryTests:
			tests++
		case CategoryDocumentation:
			docs++
		}
	}
	switch {
	case tests == len(files):
		return loop.CategoryTesting
	case docs == len(files):
		return loop.CategoryDocumentation
	default:
		return loop.CategoryImplementation
	}
}

// Mode says which diff was analyzed.
type Mode string

const (
	ModeStaged Mode = "staged"
	ModePRDiff Mode = "pr-diff"
)

// Context is the generated change summary.
type Context struct {
	Summary        string               `json:"summary"`
	ChangeType     string               `json:"change_type"`
	Files          []string             `json:"files"`
	Categories     map[string][]string  `json:"categories"`
	FileStats      map[string]DiffStats `json:"-"`
	TotalAdditions int                  `json:"total_additions"`
	TotalDeletions int                  `json:"total_deletions"`
	Timestamp      time.Time            `json:"timestamp"`
	Mode           Mode                 `json:"mode"`
}

// Patterns returns every pattern seen in any file, sorted.
func (c *Context) Patterns() []Pattern {
	seen := make(map[Pattern]bool)
	for _, s := range c.FileStats {
		for p, ok := range s.Patterns {
			if ok {
				seen[p] = true
			}
		}
	}
	out := make([]Pattern, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
