package doctor

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/hookguard/internal/config"
	"github.com/haasonsaas/hookguard/internal/gate"
	"github.com/haasonsaas/hookguard/internal/storage"
)

// SecuritySeverity represents the severity of a security finding.
type SecuritySeverity string

const (
	SeverityInfo     SecuritySeverity = "info"
	SeverityWarning  SecuritySeverity = "warning"
	SeverityCritical SecuritySeverity = "critical"
)

// SecurityFinding represents a security-related finding.
type SecurityFinding struct {
	Severity SecuritySeverity
	Message  string
}

// SecurityAudit aggregates security findings.
type SecurityAudit struct {
	Findings []SecurityFinding
}

func (a *SecurityAudit) add(severity SecuritySeverity, format string, args ...any) {
	a.Findings = append(a.Findings, SecurityFinding{Severity: severity, Message: fmt.Sprintf(format, args...)})
}

// Critical reports whether any finding is critical.
func (a SecurityAudit) Critical() bool {
	for _, f := range a.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// AuditSecurity inspects the configuration for settings that weaken the
// guard rails, and the config file and state directory for loose
// permissions.
func AuditSecurity(cfg *config.Config, configPath string) SecurityAudit {
	audit := SecurityAudit{}

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil {
			appendPermFindings(&audit, "config file", configPath, info.Mode())
		}
	}
	if cfg == nil {
		return audit
	}

	stateDir := filepath.Join(cfg.BaseDir, config.DefaultStateDir)
	if info, err := os.Stat(stateDir); err == nil {
		appendPermFindings(&audit, "state directory", stateDir, info.Mode())
	}

	if !cfg.Policy.BuiltinEnabled() {
		audit.add(SeverityWarning, "policy.builtin is false: destructive commands such as `rm -rf /` are only blocked by your own rules")
	}
	if len(cfg.Files.Protected) == 0 {
		audit.add(SeverityWarning, "files.protected is empty: file tools may overwrite .env files and keys")
	}
	if cfg.Commit.Disabled {
		audit.add(SeverityInfo, "commit message guard is disabled")
	}

	if !cfg.Audit.Enabled {
		audit.add(SeverityInfo, "audit log is disabled: decisions are not recorded")
	} else if cfg.Audit.IncludeToolInput {
		audit.add(SeverityWarning, "audit.include_tool_input records full tool arguments, which may contain secrets")
	}

	if cfg.Gate.Mode == gate.ModeStrict && len(cfg.Gate.Checks) == 0 {
		audit.add(SeverityInfo, "gate mode is strict but no checks are configured")
	}

	if endpoint := strings.TrimSpace(cfg.Tracing.Endpoint); endpoint != "" && cfg.Tracing.Insecure && !isLoopbackEndpoint(endpoint) {
		audit.add(SeverityWarning, "tracing.endpoint %q is remote and tracing.insecure disables TLS", endpoint)
	}

	if cfg.Storage.Driver == storage.DialectPostgres {
		auditPostgresDSN(&audit, cfg.Storage.DSN)
	}
	return audit
}

func auditPostgresDSN(audit *SecurityAudit, dsn string) {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		audit.add(SeverityWarning, "storage.dsn embeds a password; prefer ${ENV} expansion")
	}
	if u.Query().Get("sslmode") == "disable" && !isLoopbackEndpoint(u.Host) {
		audit.add(SeverityWarning, "storage.dsn disables TLS for remote host %q", u.Hostname())
	}
}

func appendPermFindings(audit *SecurityAudit, label, path string, mode os.FileMode) {
	perm := mode.Perm()
	if perm&0o022 != 0 {
		audit.add(SeverityCritical, "%s %q is group/world writable (%#o)", label, path, perm)
	}
	if perm&0o044 != 0 && !mode.IsDir() {
		audit.add(SeverityWarning, "%s %q is group/world readable (%#o)", label, path, perm)
	}
}

// isLoopbackEndpoint reports whether a host or host:port names this machine.
func isLoopbackEndpoint(endpoint string) bool {
	host := strings.TrimSpace(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
