package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/hookguard/internal/commands"
	"github.com/haasonsaas/hookguard/internal/observability"
)

// runGatewayRoute shows how a chat message would be routed. It never
// contacts the agent.
func runGatewayRoute(cmd *cobra.Command, args []string, permission, repo, branch string, pr int, asJSON bool) error {
	perm, err := commands.ParsePermission(permission)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logCfg := cfg.Logging
	logCfg.Output = cmd.ErrOrStderr()

	router, err := commands.NewRouter(commands.RouterOptions{
		Prefixes: cfg.Gateway.Prefixes,
		Commands: cfg.Gateway.Commands,
		Logger:   observability.NewLogger(logCfg),
	})
	if err != nil {
		return fmt.Errorf("gateway commands: %w", err)
	}

	route := router.Route(strings.Join(args, " "), perm, commands.RepoContext{
		Repo:     repo,
		Branch:   branch,
		PRNumber: pr,
	})

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(route)
	}
	fmt.Fprintf(out, "outcome: %s\n", route.Outcome)
	if route.Command != "" {
		fmt.Fprintf(out, "command: %s\n", route.Command)
	}
	switch {
	case route.Prompt != "":
		fmt.Fprintf(out, "\n%s\n", route.Prompt)
	case route.Reply != "":
		fmt.Fprintf(out, "\n%s\n", route.Reply)
	}
	return nil
}
