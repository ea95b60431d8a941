// commands.go contains the cobra command definitions and their flags. Each
// builder wires a command to its handler in handlers*.go.
package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Hook Command
// =============================================================================

// buildHookCmd creates the "hook" command the agent host invokes for every
// lifecycle event.
func buildHookCmd() *cobra.Command {
	var allowTTY bool

	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Process one lifecycle event from stdin",
		Long: `Read one JSON event record from stdin, run it through the pipeline and
write at most one JSON record to stdout.

Exit status 0 lets the agent continue, 2 blocks the action or the end of the
turn, and 1 reports a configuration or input error.`,
		Example: `  echo '{"hook_event_name":"PreToolUse","session_id":"s1","tool_name":"Bash","tool_input":{"command":"rm -rf /"}}' | hookguard hook`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd, allowTTY)
		},
	}
	cmd.Flags().BoolVar(&allowTTY, "allow-tty", false, "Read the event from an interactive terminal")
	return cmd
}

// =============================================================================
// Inspection Commands
// =============================================================================

func buildMatchCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "match <prompt>",
		Short: "Show the skills a prompt matches and the injected bundle",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, args, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print matches as JSON")
	return cmd
}

func buildEvaluateCmd() *cobra.Command {
	var (
		command string
		path    string
		session string
	)
	cmd := &cobra.Command{
		Use:   "evaluate <tool>",
		Short: "Show the pre-check decision for a tool call",
		Example: `  hookguard evaluate Bash --command "git push --force"
  hookguard evaluate Write --path .env`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, args[0], command, path, session)
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "Shell command for shell tools")
	cmd.Flags().StringVar(&path, "path", "", "Target path for file tools")
	cmd.Flags().StringVar(&session, "session", "cli", "Session id recorded in the audit log")
	return cmd
}

// =============================================================================
// Gate Commands
// =============================================================================

func buildGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Run the turn completion gate",
	}
	cmd.AddCommand(buildGateRunCmd())
	return cmd
}

func buildGateRunCmd() *cobra.Command {
	var (
		strict bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every configured check",
		Long: `Run the configured checks in order. In strict mode a failing check makes
the command exit 2; in advisory mode it only reports warnings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGate(cmd, strict, asJSON)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Force strict mode")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

// =============================================================================
// Loop Commands
// =============================================================================

func buildLoopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Inspect and reset autonomous loop state",
	}
	cmd.AddCommand(buildLoopStatusCmd(), buildLoopResetCmd(), buildLoopRecordCmd())
	return cmd
}

func buildLoopStatusCmd() *cobra.Command {
	var (
		session string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show breaker state for one session or all sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoopStatus(cmd, session, asJSON)
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Session id (default: all sessions)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print state as JSON")
	return cmd
}

func buildLoopResetCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Close the breaker for a halted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoopReset(cmd, session)
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func buildLoopRecordCmd() *cobra.Command {
	var (
		session    string
		progress   bool
		errorSig   string
		category   string
		exitSignal bool
		files      []string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one loop iteration",
		Long: `Record one iteration for an external loop driver. The exit status is 2
when the breaker is open after the iteration. An exit request that the
completion gate accepts ends the loop and clears its state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoopRecord(cmd, session, progress, errorSig, category, exitSignal, files)
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Session id")
	cmd.Flags().BoolVar(&progress, "progress", false, "The iteration changed something")
	cmd.Flags().StringVar(&errorSig, "error", "", "Error signature observed in the iteration")
	cmd.Flags().StringVar(&category, "category", "", "implementation, testing or documentation")
	cmd.Flags().BoolVar(&exitSignal, "exit", false, "The agent asked to exit")
	cmd.Flags().StringSliceVar(&files, "files", nil, "Changed files, used to infer --category")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// =============================================================================
// Rules and Schema Commands
// =============================================================================

func buildRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate command rule tables",
	}
	cmd.AddCommand(buildRulesCheckCmd(), buildRulesWatchCmd())
	return cmd
}

func buildRulesCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [rules-file]",
		Short: "Validate the configured rules or a standalone rule table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesCheck(cmd, args)
		},
	}
	return cmd
}

func buildRulesWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-validate the configuration whenever it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesWatch(cmd)
		},
	}
	return cmd
}

func buildSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "schema [config|rules]",
		Short:     "Print the JSON Schema for the config file or a rule table",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"config", "rules"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd, args)
		},
	}
	return cmd
}

// =============================================================================
// Gateway Command
// =============================================================================

func buildGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Route chat messages to agent commands",
	}
	cmd.AddCommand(buildGatewayRouteCmd())
	return cmd
}

func buildGatewayRouteCmd() *cobra.Command {
	var (
		permission string
		repo       string
		branch     string
		pr         int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:     "route <message>",
		Short:   "Show how a chat message is routed",
		Example: `  hookguard gateway route "/claude plan add login" --permission member --repo acme/api`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGatewayRoute(cmd, args, permission, repo, branch, pr, asJSON)
		},
	}
	cmd.Flags().StringVar(&permission, "permission", "member", "Sender permission: viewer, member or admin")
	cmd.Flags().StringVar(&repo, "repo", "", "Repository name")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name")
	cmd.Flags().IntVar(&pr, "pr", 0, "Pull request number")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the route as JSON")
	return cmd
}

// =============================================================================
// Doctor Command
// =============================================================================

func buildDoctorCmd() *cobra.Command {
	var (
		repair bool
		probe  bool
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, repair, probe)
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "Create the state directory and ignore it in git")
	cmd.Flags().BoolVar(&probe, "probe", false, "Open the loop-state store and report its contents")
	return cmd
}

// =============================================================================
// Commit Context Command
// =============================================================================

func buildCommitContextCmd() *cobra.Command {
	var (
		base      string
		head      string
		stdout    bool
		asJSON    bool
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "commit-context",
		Short: "Summarize staged changes or a PR diff for reviewers",
		Example: `  hookguard commit-context
  hookguard commit-context --base origin/main --head HEAD --stdout`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommitContext(cmd, base, head, stdout, asJSON, outputDir)
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "Base ref for PR diff mode")
	cmd.Flags().StringVar(&head, "head", "", "Head ref for PR diff mode")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "Print markdown instead of saving")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of saving")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Save to this directory instead of the artifact store")
	return cmd
}
