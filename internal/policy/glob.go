package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Glob is a compiled glob pattern.
//
// In path mode `*` stops at a slash and `**` crosses directories; a pattern
// without a slash is matched against the base name, and a pattern with one
// matches the full path or any trailing run of path components. In word mode
// `*` matches any run of characters.
type Glob struct {
	pattern  string
	re       *regexp.Regexp
	pathMode bool
	baseOnly bool
}

// CompilePathGlob compiles a file path glob such as ".git/**" or "*.pem".
func CompilePathGlob(pattern string) (*Glob, error) {
	return compileGlob(pattern, true)
}

// CompileWordGlob compiles a glob applied to a single word such as a tool
// name or argv element.
func CompileWordGlob(pattern string) (*Glob, error) {
	return compileGlob(pattern, false)
}

// MustCompilePathGlob is like CompilePathGlob but panics on error.
func MustCompilePathGlob(pattern string) *Glob {
	g, err := CompilePathGlob(pattern)
	if err != nil {
		panic(err)
	}
	return g
}

func compileGlob(pattern string, pathMode bool) (*Glob, error) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return nil, fmt.Errorf("empty glob")
	}
	if pathMode {
		trimmed = strings.TrimPrefix(trimmed, "./")
	}

	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(trimmed); i++ {
		ch := trimmed[i]
		switch ch {
		case '*':
			if !pathMode {
				b.WriteString(".*")
				continue
			}
			if i+1 < len(trimmed) && trimmed[i+1] == '*' {
				i++
				if i+1 < len(trimmed) && trimmed[i+1] == '/' {
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			if pathMode {
				b.WriteString("[^/]")
			} else {
				b.WriteString(".")
			}
		case '.', '+', '^', '$', '{', '}', '(', ')', '[', ']', '|', '\\':
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	return &Glob{
		pattern:  pattern,
		re:       re,
		pathMode: pathMode,
		baseOnly: pathMode && !strings.Contains(trimmed, "/"),
	}, nil
}

// Match reports whether s matches the glob.
func (g *Glob) Match(s string) bool {
	if g == nil {
		return false
	}
	if !g.pathMode {
		return g.re.MatchString(s)
	}
	s = strings.TrimPrefix(strings.ReplaceAll(s, `\`, "/"), "./")
	if g.baseOnly {
		if idx := strings.LastIndexByte(s, '/'); idx >= 0 {
			s = s[idx+1:]
		}
		return g.re.MatchString(s)
	}
	if g.re.MatchString(s) {
		return true
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '/' && g.re.MatchString(s[i+1:]) {
			return true
		}
	}
	return false
}

func (g *Glob) String() string {
	if g == nil {
		return ""
	}
	return g.pattern
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?")
}
