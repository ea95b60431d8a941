package policy

import "testing"

func TestPathGlob(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{".env", "/repo/.env", true},
		{".env", ".env", true},
		{".env", "/repo/.env.example", false},
		{".env*", "/repo/.env.local", true},
		{"*.pem", "certs/server.pem", true},
		{"*.pem", "certs/server.pem.bak", false},
		{".git/**", "/repo/.git/config", true},
		{".git/**", ".git/hooks/pre-commit", true},
		{".git/**", "/repo/src/git/config", false},
		{"secrets/*.json", "/srv/app/secrets/db.json", true},
		{"secrets/*.json", "/srv/app/secrets/nested/db.json", false},
		{"**/node_modules/**", "web/node_modules/pkg/index.js", true},
		{"./build/**", "build/out.bin", true},
		{"docs/?.md", "docs/a.md", true},
		{"docs/?.md", "docs/ab.md", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			g, err := CompilePathGlob(tt.pattern)
			if err != nil {
				t.Fatalf("CompilePathGlob(%q) error: %v", tt.pattern, err)
			}
			if got := g.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestWordGlob(t *testing.T) {
	g, err := CompileWordGlob("mcp__*")
	if err != nil {
		t.Fatalf("CompileWordGlob error: %v", err)
	}
	if !g.Match("mcp__github__create_issue") {
		t.Error("expected match")
	}
	if g.Match("bash") {
		t.Error("unexpected match")
	}
	if _, err := CompileWordGlob("  "); err == nil {
		t.Error("empty glob should fail")
	}
}
