package commands

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultPrefixes address a chat message to the agent.
var DefaultPrefixes = []string{"/claude", "!claude", "@claude"}

// Length limits, in characters. Longer input is truncated, not rejected.
const (
	MaxMessageLength = 2000
	MaxCommandLength = 100
	MaxArgsLength    = 1500
)

// ParsedCommand is a message split into command and arguments.
type ParsedCommand struct {
	// Prefix is the prefix that matched, as configured.
	Prefix string
	// Name is the lowercased command word.
	Name string
	// Args is the remaining text, or empty.
	Args string
}

// Parser detects prefixed commands in chat messages.
type Parser struct {
	prefixes []string
}

// NewParser creates a parser. Without prefixes DefaultPrefixes are used.
func NewParser(prefixes ...string) *Parser {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &Parser{prefixes: cleaned}
}

// Parse returns the command in message, or nil if the message does not
// start with a prefix followed by whitespace and a command word. Prefixes
// match case-insensitively.
func (p *Parser) Parse(message string) *ParsedCommand {
	text := strings.TrimSpace(truncate(message, MaxMessageLength))

	for _, prefix := range p.prefixes {
		if len(text) <= len(prefix) || !strings.EqualFold(text[:len(prefix)], prefix) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(text[len(prefix):])
		if !unicode.IsSpace(next) {
			continue
		}
		rest := strings.TrimSpace(text[len(prefix):])
		if rest == "" {
			return nil
		}
		name, args := SplitCommandArgs(rest)
		return &ParsedCommand{
			Prefix: prefix,
			Name:   truncate(name, MaxCommandLength),
			Args:   truncate(args, MaxArgsLength),
		}
	}
	return nil
}

// IsCommand reports whether message is addressed to the agent.
func (p *Parser) IsCommand(message string) bool {
	return p.Parse(message) != nil
}

// SplitCommandArgs splits command text into a lowercased name and the
// remaining arguments.
func SplitCommandArgs(text string) (name, args string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return strings.ToLower(text), ""
	}
	return strings.ToLower(text[:i]), strings.TrimSpace(text[i:])
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
