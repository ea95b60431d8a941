package commands

import (
	"fmt"
	"log/slog"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Prefixes []string
	// Commands add to DefaultMappings or replace them by name.
	Commands []MappingSpec
	Logger   *slog.Logger
}

// Router turns chat messages into agent prompts.
type Router struct {
	parser   *Parser
	registry *Registry
	logger   *slog.Logger
}

// NewRouter builds a router over the default mappings plus opts.Commands.
func NewRouter(opts RouterOptions) (*Router, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewRegistry(logger)
	for _, m := range DefaultMappings() {
		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}
	for i, spec := range opts.Commands {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("commands[%d]: %w", i, err)
		}
		if err := registry.Set(spec.Mapping()); err != nil {
			return nil, fmt.Errorf("commands[%d]: %w", i, err)
		}
	}
	return &Router{
		parser:   NewParser(opts.Prefixes...),
		registry: registry,
		logger:   logger.With("component", "gateway"),
	}, nil
}

// Registry exposes the mappings.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Route classifies message for a user with the given permission.
func (r *Router) Route(message string, perm Permission, repo RepoContext) Route {
	parsed := r.parser.Parse(message)
	if parsed == nil {
		return Route{Outcome: OutcomeIgnored}
	}
	route := Route{Command: parsed.Name, Args: parsed.Args}

	m, ok := r.registry.Get(parsed.Name)
	if !ok {
		route.Outcome = OutcomeUnknown
		route.Reply = fmt.Sprintf("Unknown command: %s\n\nUse `%s help` to see available commands.", parsed.Name, parsed.Prefix)
		return route
	}
	route.Mapping = &m

	if !perm.Allows(m.Permission) {
		r.logger.Info("command denied", "command", m.Name, "required", m.Permission, "permission", perm)
		route.Outcome = OutcomeForbidden
		route.Reply = fmt.Sprintf("Command `%s` requires %s permission.", m.Name, m.Permission)
		return route
	}

	if m.Target == "" {
		route.Outcome = OutcomeHelp
		route.Reply = FormatHelp(r.registry.List(), parsed.Prefix)
		return route
	}

	if !m.AcceptsArgs && parsed.Args != "" {
		route.Outcome = OutcomeBadArgs
		route.Reply = fmt.Sprintf("Command `%s` does not accept arguments.", m.Name)
		return route
	}

	route.Outcome = OutcomePrompt
	route.Prompt = BuildPrompt(m, parsed.Args, repo)
	return route
}
