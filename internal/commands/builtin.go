package commands

import (
	"fmt"
	"strconv"
	"strings"
)

// HelpCommand is handled by the gateway and never reaches the agent.
const HelpCommand = "help"

// DefaultMappings returns the stock chat commands in help order.
func DefaultMappings() []Mapping {
	return []Mapping{
		{Name: "plan", Target: "/plan", Description: "Plan a feature implementation", Permission: PermissionMember, AcceptsArgs: true},
		{Name: "qa", Target: "/qa", Description: "Run tests and fix failures", Permission: PermissionMember},
		{Name: "review", Target: "/review", Description: "Critical code review", Permission: PermissionMember, AcceptsArgs: true},
		{Name: "zeno", Target: "/zeno", Description: "Surgical code analysis with citations", Permission: PermissionMember, AcceptsArgs: true},
		{Name: "ship", Target: "/ship", Description: "Commit and create PR", Permission: PermissionAdmin, AcceptsArgs: true},
		{Name: "simplify", Target: "/simplify", Description: "Clean up and refactor code", Permission: PermissionMember, AcceptsArgs: true},
		{Name: "deslop", Target: "/deslop", Description: "Aggressive code simplification", Permission: PermissionMember, AcceptsArgs: true},
		{Name: "debug", Target: "/systematic-debug", Description: "Systematic bug investigation", Permission: PermissionMember, AcceptsArgs: true},
		{Name: "status", Target: "/gateway-status", Description: "Check current session status", Permission: PermissionViewer},
		{Name: "approve", Target: "/workflow-approve", Description: "Approve pending workflow gate", Permission: PermissionAdmin, AcceptsArgs: true},
		{Name: HelpCommand, Aliases: []string{"?", "commands"}, Description: "Show available commands", Permission: PermissionViewer},
	}
}

// FormatHelp lists mappings as markdown, using prefix in the examples.
func FormatHelp(mappings []Mapping, prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefixes[0]
	}
	var sb strings.Builder
	sb.WriteString("**Available Commands**\n")
	for _, m := range mappings {
		args := ""
		if m.AcceptsArgs {
			args = " <args>"
		}
		fmt.Fprintf(&sb, "\n- `%s %s%s` - %s (%s)", prefix, m.Name, args, m.Description, m.Permission)
	}
	return sb.String()
}

// BuildPrompt renders the agent prompt for a mapped command.
func BuildPrompt(m Mapping, args string, repo RepoContext) string {
	lines := []string{"Execute: " + m.Target}
	if args != "" {
		lines = append(lines, "Arguments: "+args)
	}
	if repo.Repo != "" {
		lines = append(lines, "Repository: "+repo.Repo)
	}
	if repo.Branch != "" {
		lines = append(lines, "Branch: "+repo.Branch)
	}
	if repo.PRNumber > 0 {
		lines = append(lines, "PR: #"+strconv.Itoa(repo.PRNumber))
	}
	return strings.Join(lines, "\n")
}
