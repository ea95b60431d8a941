// Package shell parses shell command lines into a structured form so that
// command policy can match individual simple commands instead of raw strings.
//
// The parser is deliberately conservative: it understands quoting, escapes,
// control operators, redirections and substitutions well enough to split a
// command line into segments, and it flags everything it cannot reason about
// so callers can refuse to auto-approve it.
package shell

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Operator is a control operator joining two segments.
type Operator string

const (
	OpSequence   Operator = ";"
	OpAnd        Operator = "&&"
	OpOr         Operator = "||"
	OpPipe       Operator = "|"
	OpBackground Operator = "&"
)

// Risk categories, shared with the reason strings shown to users.
const (
	RiskCommandChain = "command_chain"
	RiskPipe         = "pipe"
	RiskRedirect     = "redirect"
	RiskSubshell     = "subshell"
	RiskBackground   = "background"
	RiskNested       = "nested_shell"
	RiskEnvAssign    = "env_assignment"
)

var riskDescriptions = map[string]string{
	RiskCommandChain: "command chaining allows execution of multiple commands",
	RiskPipe:         "pipes allow output to be redirected to another command",
	RiskRedirect:     "redirects can overwrite files or read sensitive data",
	RiskSubshell:     "subshells allow arbitrary command execution",
	RiskBackground:   "background execution can spawn persistent processes",
	RiskNested:       "nested shell invocations hide the real command",
	RiskEnvAssign:    "leading variable assignments can change which program runs or what it loads",
}

// ErrUnterminatedQuote is returned for command lines with an open quote.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// maxNestingDepth bounds recursion into `sh -c` style payloads.
const maxNestingDepth = 3

// Redirect is a single I/O redirection attached to a segment.
type Redirect struct {
	Op     string `json:"op"`
	Target string `json:"target"`
}

// Segment is one simple command: optional environment assignments followed by
// an argv vector.
type Segment struct {
	Env       []string   `json:"env,omitempty"`
	Argv      []string   `json:"argv"`
	Redirects []Redirect `json:"redirects,omitempty"`

	// Nested marks segments recovered from a `sh -c` payload or a
	// substitution body.
	Nested bool `json:"nested,omitempty"`
}

// Program returns the base name of the executable, or "" for an empty segment.
func (s Segment) Program() string {
	if len(s.Argv) == 0 {
		return ""
	}
	return filepath.Base(s.Argv[0])
}

// String renders the segment argv joined by single spaces.
func (s Segment) String() string {
	return strings.Join(s.Argv, " ")
}

// Command is the structured form of a command line.
type Command struct {
	Raw       string     `json:"raw"`
	Segments  []Segment  `json:"segments"`
	Operators []Operator `json:"operators,omitempty"`

	// Substitutions holds the raw bodies of $(...), `...` and <(...) found
	// outside single quotes.
	Substitutions []string `json:"substitutions,omitempty"`

	// Subshell is set when the line contains a bare ( ... ) group.
	Subshell bool `json:"subshell,omitempty"`

	risks map[string]bool
}

// IsSimple reports whether the command is exactly one segment with no
// redirections, substitutions, subshells, nested shells or leading variable
// assignments.
func (c *Command) IsSimple() bool {
	if c == nil {
		return false
	}
	return len(c.topLevel()) == 1 && len(c.risks) == 0
}

// IsCompound is the negation of IsSimple for non-empty commands.
func (c *Command) IsCompound() bool {
	return c != nil && len(c.Segments) > 0 && !c.IsSimple()
}

// Risks returns the sorted risk categories detected in the command.
func (c *Command) Risks() []string {
	out := make([]string, 0, len(c.risks))
	for r := range c.risks {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Reason describes why the command is not simple, or "" when it is.
func (c *Command) Reason() string {
	risks := c.Risks()
	if len(risks) == 0 {
		return ""
	}
	parts := make([]string, 0, len(risks))
	for _, r := range risks {
		parts = append(parts, riskDescriptions[r])
	}
	return strings.Join(parts, "; ")
}

func (c *Command) topLevel() []Segment {
	var out []Segment
	for _, s := range c.Segments {
		if !s.Nested {
			out = append(out, s)
		}
	}
	return out
}

func (c *Command) addRisk(r string) {
	if c.risks == nil {
		c.risks = make(map[string]bool)
	}
	c.risks[r] = true
}

// Parse splits a command line into segments. Nested `sh -c` payloads and
// substitution bodies are parsed recursively and appended as Nested segments
// so that deny rules can see them.
func Parse(line string) (*Command, error) {
	return parse(line, 0)
}

func parse(line string, depth int) (*Command, error) {
	cmd := &Command{Raw: line}
	p := &lexer{src: line, cmd: cmd}
	if err := p.run(); err != nil {
		return cmd, err
	}
	if len(cmd.Operators) > 0 {
		for _, op := range cmd.Operators {
			switch op {
			case OpPipe:
				cmd.addRisk(RiskPipe)
			case OpBackground:
				cmd.addRisk(RiskBackground)
			default:
				cmd.addRisk(RiskCommandChain)
			}
		}
	}

	for _, seg := range cmd.Segments {
		if len(seg.Env) > 0 {
			cmd.addRisk(RiskEnvAssign)
		}
	}

	if depth >= maxNestingDepth {
		return cmd, nil
	}

	var nested []Segment
	for _, body := range cmd.Substitutions {
		nested = append(nested, nestedSegments(body, depth+1)...)
	}
	for _, seg := range cmd.Segments {
		payload, ok := nestedPayload(seg)
		if !ok {
			continue
		}
		cmd.addRisk(RiskNested)
		nested = append(nested, nestedSegments(payload, depth+1)...)
	}
	cmd.Segments = append(cmd.Segments, nested...)
	return cmd, nil
}

// nestedSegments parses a payload for its segments. A payload that does not
// parse still contributes its raw words as one segment.
func nestedSegments(payload string, depth int) []Segment {
	inner, err := parse(payload, depth)
	if err == nil {
		return markNested(inner.Segments)
	}
	words := strings.Fields(payload)
	if len(words) == 0 {
		return nil
	}
	return []Segment{{Argv: words, Nested: true}}
}

func markNested(segs []Segment) []Segment {
	out := make([]Segment, len(segs))
	for i, s := range segs {
		s.Nested = true
		out[i] = s
	}
	return out
}

var shellPrograms = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true, "fish": true,
}

// nestedPayload extracts the script passed to `sh -c`, `bash -lc`, or `eval`.
func nestedPayload(seg Segment) (string, bool) {
	prog := seg.Program()
	if prog == "eval" && len(seg.Argv) > 1 {
		return strings.Join(seg.Argv[1:], " "), true
	}
	if !shellPrograms[prog] {
		return "", false
	}
	for i := 1; i < len(seg.Argv)-1; i++ {
		arg := seg.Argv[i]
		if strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "--") && strings.Contains(arg, "c") {
			return seg.Argv[i+1], true
		}
	}
	return "", false
}

type lexer struct {
	src string
	pos int
	cmd *Command

	words     []string
	redirects []Redirect
	word      strings.Builder
	inWord    bool
	pendingRd string
}

func (l *lexer) run() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\\':
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\n' {
				l.pos += 2
				continue
			}
			if l.pos+1 < len(l.src) {
				l.appendByte(l.src[l.pos+1])
				l.pos += 2
				continue
			}
			l.pos++
		case c == '\'':
			end := strings.IndexByte(l.src[l.pos+1:], '\'')
			if end < 0 {
				return fmt.Errorf("%w at offset %d", ErrUnterminatedQuote, l.pos)
			}
			l.inWord = true
			l.word.WriteString(l.src[l.pos+1 : l.pos+1+end])
			l.pos += end + 2
		case c == '"':
			if err := l.doubleQuoted(); err != nil {
				return err
			}
		case c == '`':
			start := l.pos
			body, err := l.until('`', l.pos+1)
			if err != nil {
				return err
			}
			l.substitution(body, start)
		case (c == '$' || c == '<' || c == '>') && l.peek(1) == '(':
			start := l.pos
			body, err := l.balanced(l.pos + 2)
			if err != nil {
				return err
			}
			l.substitution(body, start)
		case c == '(' || c == ')':
			l.cmd.Subshell = true
			l.cmd.addRisk(RiskSubshell)
			l.endWord()
			l.pos++
		case c == ';' || c == '\n':
			l.endSegment(OpSequence)
			l.pos++
		case c == '&':
			if l.peek(1) == '&' {
				l.endSegment(OpAnd)
				l.pos += 2
			} else if l.peek(1) == '>' {
				l.startRedirect("&>")
			} else {
				l.endSegment(OpBackground)
				l.pos++
			}
		case c == '|':
			if l.peek(1) == '|' {
				l.endSegment(OpOr)
				l.pos += 2
			} else {
				l.endSegment(OpPipe)
				l.pos++
			}
		case c == '>' || c == '<':
			op := string(c)
			if l.peek(1) == c {
				op += string(c)
			} else if c == '>' && l.peek(1) == '&' {
				op = ">&"
			}
			if l.inWord && isDigits(l.word.String()) {
				op = l.word.String() + op
				l.word.Reset()
				l.inWord = false
			}
			l.startRedirect(op)
		case c == ' ' || c == '\t' || c == '\r':
			l.endWord()
			l.pos++
		case c == '#' && !l.inWord:
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			l.appendByte(c)
			l.pos++
		}
	}
	l.endSegment("")
	return nil
}

func (l *lexer) doubleQuoted() error {
	l.inWord = true
	i := l.pos + 1
	for i < len(l.src) {
		c := l.src[i]
		switch {
		case c == '\\' && i+1 < len(l.src) && strings.IndexByte("\"\\$`\n", l.src[i+1]) >= 0:
			if l.src[i+1] != '\n' {
				l.word.WriteByte(l.src[i+1])
			}
			i += 2
		case c == '"':
			l.pos = i + 1
			return nil
		case c == '`':
			body, err := l.until('`', i+1)
			if err != nil {
				return err
			}
			l.substitution(body, i)
			i = l.pos
		case c == '$' && i+1 < len(l.src) && l.src[i+1] == '(':
			body, err := l.balanced(i + 2)
			if err != nil {
				return err
			}
			l.substitution(body, i)
			i = l.pos
		default:
			l.word.WriteByte(c)
			i++
		}
	}
	return fmt.Errorf("%w at offset %d", ErrUnterminatedQuote, l.pos)
}

// until scans for the closing delimiter starting at from and advances past it.
func (l *lexer) until(delim byte, from int) (string, error) {
	end := strings.IndexByte(l.src[from:], delim)
	if end < 0 {
		return "", fmt.Errorf("%w at offset %d", ErrUnterminatedQuote, from-1)
	}
	l.pos = from + end + 1
	return l.src[from : from+end], nil
}

// balanced scans a parenthesised body starting after the opening paren.
func (l *lexer) balanced(from int) (string, error) {
	depth := 1
	inSingle, inDouble := false, false
	for i := from; i < len(l.src); i++ {
		c := l.src[i]
		switch {
		case c == '\\' && !inSingle:
			i++
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case c == '(' && !inSingle && !inDouble:
			depth++
		case c == ')' && !inSingle && !inDouble:
			depth--
			if depth == 0 {
				l.pos = i + 1
				return l.src[from:i], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced parenthesis at offset %d", ErrUnterminatedQuote, from-2)
}

// substitution records a substitution body and keeps its literal text in the
// current word. l.pos must already point past the closing delimiter.
func (l *lexer) substitution(body string, start int) {
	l.cmd.Substitutions = append(l.cmd.Substitutions, body)
	l.cmd.addRisk(RiskSubshell)
	l.inWord = true
	l.word.WriteString(l.src[start:l.pos])
}

func (l *lexer) peek(n int) byte {
	if l.pos+n < len(l.src) {
		return l.src[l.pos+n]
	}
	return 0
}

func (l *lexer) appendByte(c byte) {
	l.inWord = true
	l.word.WriteByte(c)
}

func (l *lexer) startRedirect(op string) {
	l.endWord()
	l.cmd.addRisk(RiskRedirect)
	l.pendingRd = op
	l.pos += len(strings.TrimLeft(op, "0123456789"))
}

func (l *lexer) endWord() {
	if !l.inWord {
		return
	}
	w := l.word.String()
	l.word.Reset()
	l.inWord = false
	if l.pendingRd != "" {
		l.redirects = append(l.redirects, Redirect{Op: l.pendingRd, Target: w})
		l.pendingRd = ""
		return
	}
	l.words = append(l.words, w)
}

func (l *lexer) endSegment(op Operator) {
	l.endWord()
	if l.pendingRd != "" {
		l.redirects = append(l.redirects, Redirect{Op: l.pendingRd})
		l.pendingRd = ""
	}
	if len(l.words) > 0 || len(l.redirects) > 0 {
		seg := Segment{Redirects: l.redirects}
		i := 0
		for i < len(l.words) && isAssignment(l.words[i]) {
			i++
		}
		if i > 0 {
			seg.Env = append([]string(nil), l.words[:i]...)
		}
		seg.Argv = append([]string{}, l.words[i:]...)
		l.cmd.Segments = append(l.cmd.Segments, seg)
		if op != "" {
			l.cmd.Operators = append(l.cmd.Operators, op)
		}
	} else if op != "" && op != OpSequence {
		// An operator with nothing before it still signals chaining.
		l.cmd.Operators = append(l.cmd.Operators, op)
	}
	l.words = nil
	l.redirects = nil
}

func isAssignment(w string) bool {
	eq := strings.IndexByte(w, '=')
	if eq <= 0 {
		return false
	}
	for i := 0; i < eq; i++ {
		c := w[i]
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
