package doctor

import "github.com/haasonsaas/sidecar/internal/captoken"

// KeyringHealth is the doctor-facing view of the capability token signing
// keyring: which key is currently active, and whether it has been wiped
// (by a panic rotation, or because the Service was never handed a keyring
// at all).
type KeyringHealth struct {
	ActiveKeyID string
	Empty       bool
}

// ProbeKeyring reports the current signing keyring state for svc. A nil
// Service (no token issuance configured) reports as empty rather than
// panicking, since the `doctor` command must run against partial setups.
func ProbeKeyring(svc *captoken.Service) KeyringHealth {
	if svc == nil {
		return KeyringHealth{Empty: true}
	}
	keyID, empty := svc.KeyringStatus()
	return KeyringHealth{ActiveKeyID: keyID, Empty: empty}
}

// Unhealthy reports whether the keyring needs operator attention: no
// active signing key means every future Mint call will fail until the
// process re-authorizes.
func (h KeyringHealth) Unhealthy() bool {
	return h.Empty
}
