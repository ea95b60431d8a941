package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/hookguard/internal/engine"
	"github.com/haasonsaas/hookguard/internal/gate"
	"github.com/haasonsaas/hookguard/internal/loop"
	"github.com/haasonsaas/hookguard/internal/protocol"
)

// runGate runs the completion gate outside a Stop event. --strict wins over
// both the config file and HOOKGUARD_STRICT.
func runGate(cmd *cobra.Command, strict, asJSON bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var opts []engine.Option
	if strict {
		opts = append(opts, engine.WithGetenv(func(key string) string {
			if key == gate.EnvStrict {
				return "1"
			}
			return ""
		}))
	}
	a, err := newApp(cmd, cfg, opts...)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer a.Close(context.WithoutCancel(ctx))

	report := a.engine.RunGate(ctx, "cli")
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHECK\tSTATUS\tDURATION")
		for _, res := range report.Results {
			fmt.Fprintf(w, "%s\t%s\t%s\n", res.Name, res.Status, res.Duration.Round(time.Millisecond))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, report.Summary())
	}
	if report.Verdict == gate.VerdictBlocked {
		return &exitError{code: protocol.ExitBlock}
	}
	return nil
}

func runLoopStatus(cmd *cobra.Command, session string, asJSON bool) error {
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

	store, err := a.engine.Store(ctx)
	if err != nil {
		return err
	}
	var states []loop.State
	if session != "" {
		st, err := store.Load(ctx, session)
		if errors.Is(err, loop.ErrNotFound) {
			return fmt.Errorf("no loop state for session %q", session)
		}
		if err != nil {
			return err
		}
		states = []loop.State{st}
	} else {
		if states, err = store.List(ctx); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	}
	if len(states) == 0 {
		fmt.Fprintln(out, "No loop sessions recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tBREAKER\tITERATIONS\tNO_PROGRESS\tERRORS\tTEST_ONLY\tREASON\tUPDATED")
	for _, st := range states {
		reason := st.TripReason
		if reason == "" {
			reason = "-"
		}
		updated := "-"
		if !st.UpdatedAt.IsZero() {
			updated = st.UpdatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			st.SessionID, st.Breaker, st.Iterations, st.ConsecutiveNoProgress,
			st.ErrorCount, st.ConsecutiveTestOnly, reason, updated)
	}
	return w.Flush()
}

func runLoopReset(cmd *cobra.Command, session string) error {
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

	store, err := a.engine.Store(ctx)
	if err != nil {
		return err
	}
	st, err := loop.ResetSession(ctx, store, session)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s reset (breaker %s).\n", st.SessionID, st.Breaker)
	return nil
}

// runLoopRecord feeds one iteration through the same path as a
// LoopIteration event, so halts are audited and their reports saved.
func runLoopRecord(cmd *cobra.Command, session string, progress bool, errorSig, category string, exitSignal bool, files []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	in := &protocol.Input{
		HookEventName: protocol.EventLoopIteration,
		SessionID:     session,
		Cwd:           cfg.BaseDir,
		Loop: &protocol.LoopReport{
			Progress:       progress,
			ErrorSignature: errorSig,
			Category:       loop.Category(category),
			ExitSignal:     exitSignal,
			FilesChanged:   files,
		},
	}
	if err := in.Validate(); err != nil {
		return err
	}

	a, err := newApp(cmd, cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer a.Close(context.WithoutCancel(ctx))

	resp := a.engine.Handle(ctx, in)
	out := cmd.OutOrStdout()
	if resp.ExitCode == protocol.ExitBlock {
		fmt.Fprintln(out, resp.Output.Message)
		return &exitError{code: protocol.ExitBlock}
	}
	for _, w := range resp.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	if resp.Output.Decision == protocol.DecisionApprove {
		fmt.Fprintf(out, "Session %s: %s; loop state cleared.\n", session, resp.Output.Message)
		return nil
	}

	store, err := a.engine.Store(ctx)
	if err != nil {
		return err
	}
	st, err := store.Load(ctx, session)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s: breaker %s after %d iterations.\n", st.SessionID, st.Breaker, st.Iterations)
	return nil
}
