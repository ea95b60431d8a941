package policy

import (
	"fmt"
	"strings"
)

// Invocation is a proposed tool call. It is immutable once created.
type Invocation struct {
	ID        string         `json:"id,omitempty"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// StringArg returns a named argument rendered as a string.
func (i Invocation) StringArg(name string) (string, bool) {
	v, ok := i.Arguments[name]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}

// Command returns the shell command for shell tools.
func (i Invocation) Command() string {
	cmd, _ := i.StringArg("command")
	return cmd
}

// FilePath returns the target path for file tools.
func (i Invocation) FilePath() string {
	for _, key := range []string{"file_path", "path", "notebook_path"} {
		if p, ok := i.StringArg(key); ok && p != "" {
			return p
		}
	}
	return ""
}

// Tool returns the canonical tool name.
func (i Invocation) Tool() string {
	return NormalizeTool(i.ToolName)
}

// IsShell reports whether the invocation runs a shell command.
func (i Invocation) IsShell() bool {
	return i.Tool() == "bash"
}

// IsFileWrite reports whether the invocation modifies a file.
func (i Invocation) IsFileWrite() bool {
	return InGroup("group:write", i.ToolName)
}

// DefaultGroups are the built-in tool groups usable in a rule's tool field.
var DefaultGroups = map[string][]string{
	"group:shell": {"bash"},
	"group:write": {"write", "edit", "multiedit", "notebookedit"},
	"group:read":  {"read", "glob", "grep", "ls", "notebookread"},
	"group:web":   {"webfetch", "websearch"},
}

// ToolAliases maps alternative names to canonical tool names.
var ToolAliases = map[string]string{
	"shell":       "bash",
	"exec":        "bash",
	"sh":          "bash",
	"apply_patch": "edit",
	"apply-patch": "edit",
	"multi_edit":  "multiedit",
	"web_fetch":   "webfetch",
	"web_search":  "websearch",
}

// NormalizeTool lowercases a tool name and resolves known aliases.
func NormalizeTool(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := ToolAliases[normalized]; ok {
		return alias
	}
	return normalized
}

// InGroup reports whether tool belongs to the named group.
func InGroup(group, tool string) bool {
	normalized := NormalizeTool(tool)
	for _, member := range DefaultGroups[group] {
		if member == normalized {
			return true
		}
	}
	return false
}
