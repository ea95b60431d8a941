package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/hookguard/internal/doctor"
	"github.com/haasonsaas/hookguard/internal/protocol"
)

// runDoctor reports missing tools and security findings. It exits 1 when a
// required tool is missing or a finding is critical.
func runDoctor(cmd *cobra.Command, repair, probe bool) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Path != "" {
		fmt.Fprintf(out, "Config: %s\n\n", cfg.Path)
	} else {
		fmt.Fprintln(out, "Config: built-in defaults")
		fmt.Fprintln(out)
	}

	if repair {
		dir, changed, err := doctor.RepairStateDir(cfg)
		if err != nil {
			return fmt.Errorf("state directory repair failed: %w", err)
		}
		if changed {
			fmt.Fprintf(out, "State directory secured: %s\n", dir)
		}
		backup, changed, err := doctor.RepairGitignore(cfg.BaseDir)
		if err != nil {
			return fmt.Errorf(".gitignore repair failed: %w", err)
		}
		if changed {
			fmt.Fprintln(out, ".gitignore updated")
			if backup != "" {
				fmt.Fprintf(out, "Backup created: %s\n", backup)
			}
		}
		fmt.Fprintln(out)
	}

	tools := doctor.CheckEnvironment(cfg, nil)
	fmt.Fprintln(out, "Tools:")
	for _, t := range tools {
		fmt.Fprintf(out, "  %s\n", doctor.FormatTool(t))
	}
	fmt.Fprintln(out)

	audit := doctor.AuditSecurity(cfg, cfg.Path)
	if len(audit.Findings) == 0 {
		fmt.Fprintln(out, "Security audit: no findings")
	} else {
		fmt.Fprintln(out, "Security audit:")
		for _, f := range audit.Findings {
			fmt.Fprintf(out, "  - [%s] %s\n", f.Severity, f.Message)
		}
	}

	if probe {
		fmt.Fprintln(out)
		result := doctor.ProbeStorage(cmd.Context(), cfg.Storage)
		if result.Err != nil {
			fmt.Fprintf(out, "Loop state (%s): unavailable: %v\n", result.Driver, result.Err)
		} else {
			fmt.Fprintf(out, "Loop state (%s): schema v%d, %d sessions, %d halted\n",
				result.Driver, result.SchemaVersion, result.Sessions, result.Open)
		}
	}

	missing := doctor.MissingRequired(tools)
	if len(missing) > 0 || audit.Critical() {
		fmt.Fprintln(out)
		if len(missing) > 0 {
			fmt.Fprintf(out, "Missing required tools: %s\n", strings.Join(missing, ", "))
		}
		if audit.Critical() {
			fmt.Fprintln(out, "Critical security findings must be fixed.")
		}
		return &exitError{code: protocol.ExitError}
	}
	return nil
}
