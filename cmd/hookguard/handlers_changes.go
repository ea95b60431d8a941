package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/hookguard/internal/artifacts"
	"github.com/haasonsaas/hookguard/internal/changes"
)

// Artifact names for the saved commit context.
const (
	commitContextMarkdown = "commit-context.md"
	commitContextJSON     = "commit-context.json"
)

// runCommitContext summarizes staged changes, or the base...head diff, and
// saves both renderings to the artifact store unless asked to print one.
func runCommitContext(cmd *cobra.Command, base, head string, stdout, asJSON bool, outputDir string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	src, err := changes.NewGitSource(cfg.BaseDir, base, head)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cc, err := changes.Generate(ctx, src, time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	data, err := cc.JSON()
	if err != nil {
		return err
	}
	switch {
	case asJSON:
		_, err = fmt.Fprintln(out, string(data))
		return err
	case stdout:
		_, err = fmt.Fprint(out, cc.Markdown())
		return err
	}

	var store artifacts.Store
	if outputDir != "" {
		local, err := artifacts.NewLocalStore(outputDir)
		if err != nil {
			return err
		}
		defer local.Close()
		store = local
	} else {
		a, err := newApp(cmd, cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(ctx))
		if store, err = a.engine.Artifacts(ctx); err != nil {
			return err
		}
	}

	meta := map[string]string{"mode": string(cc.Mode), "change_type": cc.ChangeType}
	var saved []string
	for _, item := range []struct {
		name string
		body []byte
	}{
		{commitContextMarkdown, []byte(cc.Markdown())},
		{commitContextJSON, data},
	} {
		ref, err := store.Put(ctx, item.name, bytes.NewReader(item.body), artifacts.PutOptions{
			MimeType: artifacts.MimeType(item.name),
			Metadata: meta,
		})
		if err != nil {
			return fmt.Errorf("save %s: %w", item.name, err)
		}
		saved = append(saved, ref)
	}
	_, err = fmt.Fprint(out, cc.Report(saved))
	return err
}
