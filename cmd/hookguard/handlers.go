package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/hookguard/internal/policy"
	"github.com/haasonsaas/hookguard/internal/protocol"
)

var errInteractiveStdin = errors.New("hook reads one JSON event from stdin; pipe an event or pass --allow-tty")

// runHook handles one lifecycle event. The response is written before the
// exit status is reported so the host always sees the decision.
func runHook(cmd *cobra.Command, allowTTY bool) error {
	if !allowTTY {
		if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return errInteractiveStdin
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	in, err := protocol.Decode(cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	resp := a.engine.Handle(ctx, in)
	if err := protocol.Write(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	if resp.ExitCode != protocol.ExitContinue {
		if msg := resp.Output.Message; msg != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), msg)
		}
		return &exitError{code: resp.ExitCode}
	}
	return nil
}

func runMatch(cmd *cobra.Command, args []string, asJSON bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(cmd.Context()))

	prompt := strings.Join(args, " ")
	matches := a.engine.Registry().Match(prompt)
	bundle := a.engine.Injector().Inject(matches)

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"matches":  matches,
			"injected": bundle.Skills,
			"skipped":  bundle.Skipped,
		})
	}

	if len(matches) == 0 {
		fmt.Fprintln(out, "No skills matched.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SKILL\tPRIORITY\tINJECTED")
	injected := make(map[string]bool, len(bundle.Skills))
	for _, id := range bundle.Skills {
		injected[id] = true
	}
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%d\t%t\n", m.SkillID, m.Priority, injected[m.SkillID])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, id := range bundle.Skipped {
		fmt.Fprintf(out, "warning: content for %s could not be loaded\n", id)
	}
	return nil
}

// runEvaluate shows the pre-check decision for a synthetic tool call. It
// exits 2 on deny, like the hook.
func runEvaluate(cmd *cobra.Command, tool, command, path, session string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd, cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer a.Close(context.WithoutCancel(ctx))

	args := map[string]any{}
	if command != "" {
		args["command"] = command
	}
	if path != "" {
		args["file_path"] = path
	}
	in := &protocol.Input{
		HookEventName: protocol.EventPreToolUse,
		SessionID:     session,
		Cwd:           cfg.BaseDir,
		ToolName:      tool,
		ToolInput:     args,
	}
	if err := in.Validate(); err != nil {
		return err
	}

	decision := a.engine.Pipeline(ctx).PreCheck(ctx, in.Call())
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "decision: %s\n", decision.Kind)
	if decision.RuleID != "" {
		fmt.Fprintf(out, "rule:     %s\n", decision.RuleID)
	}
	if decision.Reason != "" {
		fmt.Fprintf(out, "reason:   %s\n", decision.Reason)
	}
	if decision.Kind == policy.Deny {
		return &exitError{code: protocol.ExitBlock}
	}
	return nil
}
