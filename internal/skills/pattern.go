package skills

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Pattern tests a normalized prompt.
type Pattern interface {
	MatchString(normalized string) bool
	String() string
}

// ParsePattern compiles a trigger pattern. Patterns written as /expr/ are
// regular expressions; anything else is a keyword matched on word boundaries.
func ParsePattern(raw string) (Pattern, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if len(trimmed) >= 2 && strings.HasPrefix(trimmed, "/") && strings.HasSuffix(trimmed, "/") {
		expr := trimmed[1 : len(trimmed)-1]
		if expr == "" {
			return nil, fmt.Errorf("%w: empty regular expression", ErrInvalidPattern)
		}
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPattern, trimmed, err)
		}
		return &RegexPattern{source: trimmed, re: re}, nil
	}
	return &KeywordPattern{keyword: Normalize(trimmed)}, nil
}

// MustParsePattern is like ParsePattern but panics on error.
func MustParsePattern(raw string) Pattern {
	p, err := ParsePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// RegexPattern is a /.../ pattern.
type RegexPattern struct {
	source string
	re     *regexp.Regexp
}

func (p *RegexPattern) MatchString(normalized string) bool {
	return p.re.MatchString(normalized)
}

func (p *RegexPattern) String() string {
	return p.source
}

// KeywordPattern matches a keyword or phrase that is not embedded in a
// larger word.
type KeywordPattern struct {
	keyword string
}

func (p *KeywordPattern) MatchString(normalized string) bool {
	if p.keyword == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(normalized[offset:], p.keyword)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(p.keyword)
		if boundaryBefore(normalized, start) && boundaryAfter(normalized, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(normalized[start:])
		offset = start + size
	}
}

func (p *KeywordPattern) String() string {
	return p.keyword
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Normalize applies NFKC compatibility normalization and lowercases the
// text, so full-width and composed forms match their plain equivalents.
func Normalize(text string) string {
	// Casers keep state and must not be shared across goroutines.
	lower := cases.Lower(language.Und)
	return lower.String(norm.NFKC.String(text))
}
