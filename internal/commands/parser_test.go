package commands

import (
	"strings"
	"testing"
)

func TestParserParse(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name    string
		message string
		want    *ParsedCommand
	}{
		{"slash prefix", "/claude plan add user authentication", &ParsedCommand{Prefix: "/claude", Name: "plan", Args: "add user authentication"}},
		{"bang prefix", "!claude qa", &ParsedCommand{Prefix: "!claude", Name: "qa"}},
		{"mention prefix", "@claude review src/auth/", &ParsedCommand{Prefix: "@claude", Name: "review", Args: "src/auth/"}},
		{"case insensitive", "  /Claude SHIP Release Notes  ", &ParsedCommand{Prefix: "/claude", Name: "ship", Args: "Release Notes"}},
		{"tab separator", "/claude\tdebug   flaky  test", &ParsedCommand{Prefix: "/claude", Name: "debug", Args: "flaky  test"}},
		{"not addressed", "random message", nil},
		{"prefix only", "/claude", nil},
		{"prefix and spaces", "/claude   ", nil},
		{"glued prefix", "/claudeplan now", nil},
		{"prefix later", "hey /claude plan", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.message)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("Parse(%q) = %+v, want nil", tt.message, got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.message, got, tt.want)
			}
		})
	}
}

func TestParserLimits(t *testing.T) {
	p := NewParser()

	long := "/claude plan " + strings.Repeat("é", 3000)
	got := p.Parse(long)
	if got == nil {
		t.Fatal("expected command")
	}
	if n := len([]rune(got.Args)); n != MaxArgsLength {
		t.Errorf("args length = %d, want %d", n, MaxArgsLength)
	}

	got = p.Parse("/claude " + strings.Repeat("x", 150))
	if got == nil || len(got.Name) != MaxCommandLength {
		t.Errorf("command not truncated: %+v", got)
	}

	// The message is cut before parsing, so args from beyond the limit vanish.
	msg := "/claude plan " + strings.Repeat("a", MaxMessageLength) + " tail"
	if got := p.Parse(msg); got == nil || strings.Contains(got.Args, "tail") {
		t.Errorf("message not truncated first")
	}
}

func TestCustomPrefixes(t *testing.T) {
	p := NewParser("!bot", " ")
	if got := p.Parse("!bot status"); got == nil || got.Name != "status" {
		t.Errorf("Parse() = %+v", got)
	}
	if p.IsCommand("/claude status") {
		t.Error("default prefixes should be replaced")
	}
}

func TestSplitCommandArgs(t *testing.T) {
	tests := []struct {
		in, name, args string
	}{
		{"", "", ""},
		{"HELP", "help", ""},
		{"plan  build it ", "plan", "build it"},
	}
	for _, tt := range tests {
		name, args := SplitCommandArgs(tt.in)
		if name != tt.name || args != tt.args {
			t.Errorf("SplitCommandArgs(%q) = %q, %q", tt.in, name, args)
		}
	}
}
