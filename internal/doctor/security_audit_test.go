package doctor

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/haasonsaas/sidecar/internal/config"
)

func TestAuditSecurityFlagsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not reliable on windows")
	}

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sidecar.yaml")
	if err := os.WriteFile(cfgPath, []byte("mode: assist\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.Chmod(cfgPath, 0o666); err != nil {
		t.Fatalf("chmod config: %v", err)
	}

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"

	audit := AuditSecurity(cfg, cfgPath)
	if !hasSeverity(audit.Findings, SeverityCritical, "writable") {
		t.Fatalf("expected critical finding for writable perms: %#v", audit.Findings)
	}
	if !hasSeverity(audit.Findings, SeverityWarning, "readable") {
		t.Fatalf("expected warning finding for readable perms: %#v", audit.Findings)
	}
}

func TestAuditSecurityFlagsPublicBind(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "0.0.0.0"

	audit := AuditSecurity(cfg, "")
	if !hasSeverity(audit.Findings, SeverityCritical, "publicly") {
		t.Fatalf("expected critical finding for public bind: %#v", audit.Findings)
	}
}

func TestAuditSecurityLocalhostIsQuiet(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"

	audit := AuditSecurity(cfg, "")
	if hasSeverity(audit.Findings, SeverityCritical, "publicly") {
		t.Fatalf("did not expect a public-bind finding for loopback: %#v", audit.Findings)
	}
}

func TestAuditSecurityFlagsWeakSigningKey(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Compaction.SignCheckpoints = true
	cfg.Compaction.SigningKey = "tiny"

	audit := AuditSecurity(cfg, "")
	if !hasSeverity(audit.Findings, SeverityWarning, "signing_key") {
		t.Fatalf("expected warning for weak signing key: %#v", audit.Findings)
	}
}

func TestSQLiteFilePath(t *testing.T) {
	cases := map[string]string{
		"":                          "",
		":memory:":                  "",
		"file::memory:?cache=shared": "",
		"file:sidecar.db":           "sidecar.db",
		"file:/var/lib/sidecar.db?cache=shared": "/var/lib/sidecar.db",
	}
	for dsn, want := range cases {
		if got := sqliteFilePath(dsn); got != want {
			t.Errorf("sqliteFilePath(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func hasSeverity(findings []SecurityFinding, severity SecuritySeverity, contains string) bool {
	for _, finding := range findings {
		if finding.Severity != severity {
			continue
		}
		if contains == "" || strings.Contains(finding.Message, contains) {
			return true
		}
	}
	return false
}
