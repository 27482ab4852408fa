package doctor

import (
	"testing"

	"github.com/haasonsaas/sidecar/internal/captoken"
	"github.com/haasonsaas/sidecar/pkg/model"
)

func TestProbeKeyringActive(t *testing.T) {
	svc, err := captoken.NewService()
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	health := ProbeKeyring(svc)
	if health.Empty {
		t.Fatal("expected a freshly constructed service to have an active key")
	}
	if health.ActiveKeyID == "" {
		t.Fatal("expected a non-empty active key id")
	}
	if health.Unhealthy() {
		t.Fatal("freshly constructed keyring should not report unhealthy")
	}
}

func TestProbeKeyringNilService(t *testing.T) {
	health := ProbeKeyring(nil)
	if !health.Empty || !health.Unhealthy() {
		t.Fatalf("expected nil service to report empty/unhealthy, got %+v", health)
	}
}

func TestProbeKeyringRevokedAll(t *testing.T) {
	svc, err := captoken.NewService()
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.RevokeAll(model.RotatePanic)

	health := ProbeKeyring(svc)
	if !health.Empty || !health.Unhealthy() {
		t.Fatalf("expected wiped keyring to report empty/unhealthy, got %+v", health)
	}
}
