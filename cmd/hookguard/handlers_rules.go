package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/hookguard/internal/config"
	"github.com/haasonsaas/hookguard/internal/observability"
	"github.com/haasonsaas/hookguard/internal/policy"
)

// runRulesCheck validates a standalone rule table, or the full rule set of
// the active configuration when no file is given.
func runRulesCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 1 {
		table, err := config.LoadRuleTable(args[0])
		if err != nil {
			return err
		}
		compiled, err := policy.NewTable(table.Rules)
		if err != nil {
			return err
		}
		printRuleCounts(out, args[0], compiled)
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	compiled, err := policy.NewTable(cfg.Rules())
	if err != nil {
		return err
	}
	source := cfg.Path
	if source == "" {
		source = "built-in defaults"
	}
	printRuleCounts(out, source, compiled)
	return nil
}

func printRuleCounts(out io.Writer, source string, table *policy.Table) {
	counts := table.Counts()
	fmt.Fprintf(out, "%s: %d rules ok (deny %d, ask %d, allow %d)\n", source, table.Len(),
		counts[policy.ClassDeny], counts[policy.ClassAsk], counts[policy.ClassAllow])
}

// runRulesWatch re-validates the configuration and its rule file on every
// change until interrupted. A running hook process is never affected.
func runRulesWatch(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Path == "" {
		return errors.New("no configuration file to watch")
	}
	logCfg := cfg.Logging
	logCfg.Output = cmd.ErrOrStderr()
	logger := observability.NewLogger(logCfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	path := cfg.Path
	paths := cfg.WatchPaths()
	for _, p := range paths {
		fmt.Fprintf(out, "watching %s\n", p)
	}
	check := func() {
		next, err := config.Load(path)
		if err == nil {
			_, err = policy.NewTable(next.Rules())
		}
		stamp := time.Now().Format(time.TimeOnly)
		if err != nil {
			fmt.Fprintf(out, "[%s] invalid: %v\n", stamp, err)
			return
		}
		fmt.Fprintf(out, "[%s] %s: %d rules ok\n", stamp, path, len(next.Rules()))
	}
	return config.Watch(ctx, paths, config.DefaultWatchDebounce, logger, check)
}

func runSchema(cmd *cobra.Command, args []string) error {
	which := "config"
	if len(args) == 1 {
		which = args[0]
	}
	var (
		data []byte
		err  error
	)
	switch which {
	case "rules":
		data, err = config.RulesSchema()
	default:
		data, err = config.JSONSchema()
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if _, err := out.Write(data); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out)
	return err
}
