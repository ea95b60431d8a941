// Package main provides the CLI entry point for hookguard, the lifecycle
// policy pipeline for autonomous coding agents.
//
// # Basic Usage
//
// Register the hook command for every lifecycle event in the agent host:
//
//	hookguard hook --config hookguard.yaml
//
// Inspect what the pipeline would do:
//
//	hookguard evaluate Bash --command "rm -rf /"
//	hookguard match "let's do test-driven development"
//	hookguard gate run
//
// # Environment Variables
//
//   - HOOKGUARD_CONFIG: Path to configuration file (default: hookguard.yaml)
//   - HOOKGUARD_STRICT: Force the completion gate into strict (1) or advisory (0) mode
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// configPath is the persistent --config flag.
var configPath string

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit status. Errors that
// already carry a status were reported by the command itself.
func exitCode(err error) int {
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	slog.Error("command execution failed", "error", err)
	return 1
}

// exitError ends the process with code without further output.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hookguard",
		Short: "Lifecycle policy pipeline for autonomous coding agents",
		Long: `hookguard intercepts the lifecycle events of an autonomous coding agent.

It injects matching skill context into prompts, classifies proposed tool
calls against a rule table, runs a completion gate before a turn ends and
halts runaway autonomous loops with a circuit breaker.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to configuration file (default hookguard.yaml, or set HOOKGUARD_CONFIG)")

	rootCmd.AddCommand(
		buildHookCmd(),
		buildMatchCmd(),
		buildEvaluateCmd(),
		buildGateCmd(),
		buildLoopCmd(),
		buildRulesCmd(),
		buildSchemaCmd(),
		buildGatewayCmd(),
		buildDoctorCmd(),
		buildCommitContextCmd(),
	)
	return rootCmd
}
