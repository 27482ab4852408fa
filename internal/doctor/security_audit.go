package doctor

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/haasonsaas/sidecar/internal/config"
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

// AuditSecurity inspects the process config and its on-disk artifacts for
// common security hazards, following the teacher's AuditSecurity shape
// (internal/doctor/security_audit.go) generalized from workspace/auth
// checks to the Agent Core's own sensitive surfaces: the event store DSN
// file, the checkpoint signing key, and the metrics bind address.
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

	if dsn := sqliteFilePath(cfg.EventStore.DSN); dsn != "" {
		if info, err := os.Stat(dsn); err == nil {
			appendPermFindings(&audit, "event store database", dsn, info.Mode())
		}
	}

	if cfg.Compaction.SignCheckpoints && len(cfg.Compaction.SigningKey) < 16 {
		audit.Findings = append(audit.Findings, SecurityFinding{
			Severity: SeverityWarning,
			Message:  "compaction.signing_key is shorter than 16 bytes",
		})
	}

	if isPublicBind(cfg.Server.Host) {
		audit.Findings = append(audit.Findings, SecurityFinding{
			Severity: SeverityCritical,
			Message: fmt.Sprintf(
				"server.host %q exposes the /metrics surface publicly; the Agent Core has no authentication layer of its own, bind to localhost or front it with a reverse proxy",
				cfg.Server.Host),
		})
	}

	if cfg.Cloud.Enabled && cfg.ContextPack.BudgetTokens <= 0 {
		audit.Findings = append(audit.Findings, SecurityFinding{
			Severity: SeverityCritical,
			Message:  "cloud.enabled is true with an unbounded context budget; egress redaction has nothing to bound",
		})
	}

	return audit
}

func appendPermFindings(audit *SecurityAudit, label, path string, mode os.FileMode) {
	perm := mode.Perm()
	if perm&0o022 != 0 {
		audit.Findings = append(audit.Findings, SecurityFinding{
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("%s %q is group/world writable (%#o)", label, path, perm),
		})
	}
	if perm&0o044 != 0 {
		audit.Findings = append(audit.Findings, SecurityFinding{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%s %q is group/world readable (%#o)", label, path, perm),
		})
	}
}

func isPublicBind(host string) bool {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return true
	}
	if strings.EqualFold(trimmed, "localhost") {
		return false
	}
	if ip := net.ParseIP(trimmed); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

// sqliteFilePath extracts a plain filesystem path from a sqlite DSN, or ""
// for in-memory DSNs (":memory:", "file::memory:", empty).
func sqliteFilePath(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" || strings.Contains(trimmed, ":memory:") {
		return ""
	}
	path := strings.TrimPrefix(trimmed, "file:")
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	return path
}
