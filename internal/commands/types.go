// Package commands routes chat platform messages such as "/claude plan add
// auth" to agent slash commands, enforcing per-command permission levels.
package commands

import (
	"errors"
	"fmt"
	"strings"
)

// Permission is a chat user's level. Levels are ordered viewer < member < admin.
type Permission string

const (
	PermissionViewer Permission = "viewer"
	PermissionMember Permission = "member"
	PermissionAdmin  Permission = "admin"
)

// Rank orders permissions. Unknown values rank below viewer.
func (p Permission) Rank() int {
	switch p {
	case PermissionViewer:
		return 1
	case PermissionMember:
		return 2
	case PermissionAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether p is a known level.
func (p Permission) Valid() bool {
	return p.Rank() > 0
}

// Allows reports whether a user at level p may run a command that requires
// level required.
func (p Permission) Allows(required Permission) bool {
	return p.Valid() && p.Rank() >= required.Rank()
}

// ParsePermission parses a level name case-insensitively.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown permission %q (want viewer, member or admin)", s)
	}
	return p, nil
}

// Mapping maps a chat command to an agent command.
type Mapping struct {
	// Name is the chat command, e.g. "plan".
	Name string `json:"name"`

	Aliases []string `json:"aliases,omitempty"`

	// Target is the agent slash command, e.g. "/plan". Empty for commands
	// handled by the gateway itself.
	Target string `json:"target,omitempty"`

	Description string     `json:"description"`
	Permission  Permission `json:"permission"`
	AcceptsArgs bool       `json:"accepts_args"`
}

// MappingSpec is the configuration form of a Mapping.
type MappingSpec struct {
	Name        string     `yaml:"name" json:"name" jsonschema:"required,minLength=1"`
	Aliases     []string   `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Target      string     `yaml:"target" json:"target" jsonschema:"required"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Permission  Permission `yaml:"permission" json:"permission" jsonschema:"required,enum=viewer,enum=member,enum=admin"`
	AcceptsArgs bool       `yaml:"accepts_args,omitempty" json:"accepts_args,omitempty"`
}

// Validate checks the mapping fields.
func (s MappingSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" || strings.ContainsAny(s.Name, " \t\n") {
		return fmt.Errorf("command name %q must be a single word", s.Name)
	}
	if !strings.HasPrefix(s.Target, "/") {
		return fmt.Errorf("command %s: target %q must start with /", s.Name, s.Target)
	}
	if !s.Permission.Valid() {
		return fmt.Errorf("command %s: unknown permission %q", s.Name, s.Permission)
	}
	return nil
}

// Mapping converts s to a registry mapping.
func (s MappingSpec) Mapping() Mapping {
	return Mapping{
		Name:        strings.ToLower(strings.TrimSpace(s.Name)),
		Aliases:     s.Aliases,
		Target:      s.Target,
		Description: s.Description,
		Permission:  s.Permission,
		AcceptsArgs: s.AcceptsArgs,
	}
}

// RepoContext describes where the agent should run the command.
type RepoContext struct {
	Repo     string `json:"repo,omitempty"`
	Branch   string `json:"branch,omitempty"`
	PRNumber int    `json:"pr_number,omitempty"`
}

// Outcome classifies a routed message.
type Outcome string

const (
	// OutcomeIgnored means the message is not addressed to the agent.
	OutcomeIgnored   Outcome = "ignored"
	OutcomeHelp      Outcome = "help"
	OutcomePrompt    Outcome = "prompt"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeForbidden Outcome = "forbidden"
	OutcomeBadArgs   Outcome = "bad_args"
)

// Route is the result of routing one chat message.
type Route struct {
	Outcome Outcome  `json:"outcome"`
	Command string   `json:"command,omitempty"`
	Args    string   `json:"args,omitempty"`
	Mapping *Mapping `json:"mapping,omitempty"`

	// Prompt is the text to hand to the agent for OutcomePrompt.
	Prompt string `json:"prompt,omitempty"`

	// Reply is the text to post back to the chat for every other outcome.
	Reply string `json:"reply,omitempty"`
}

// Errors returned by Registry.Register.
var (
	ErrDuplicateCommand = errors.New("command already registered")
	ErrInvalidCommand   = errors.New("invalid command")
)
