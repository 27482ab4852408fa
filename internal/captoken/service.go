package captoken

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// claims is the JWT claim set carried by a capability token: the binding
// tuple plus the allowed tool set, generalizing the teacher's
// internal/auth.Claims (subject/email/name) to a page-identity binding.
type claims struct {
	model.Binding
	AllowedTools []string `json:"allowed_tools"`
	KeyID        string   `json:"capkey_id"`
	jwt.RegisteredClaims
}

// revocationEntry is a predicate over raw tokens or bindings; Service
// checks it before trusting an otherwise-valid signature.
type revocationEntry struct {
	raw     string // exact token match, or ""
	runID   string // binding-scoped revocation, or ""
}

// Service mints and verifies capability tokens. It never persists state
// across a restart: NewService always starts from a fresh keyring, and the
// Orchestrator's resume path re-mints tokens rather than reloading old
// ones.
type Service struct {
	keyring *Keyring

	mu        sync.Mutex
	revoked   []revocationEntry
}

// NewService builds a Service with a fresh, freshly-rotated keyring.
func NewService() (*Service, error) {
	kr, err := NewKeyring(3)
	if err != nil {
		return nil, err
	}
	return &Service{keyring: kr}, nil
}

// Mint issues a signed token scoped to binding, carrying allowedTools, that
// expires after ttl.
func (s *Service) Mint(binding model.Binding, allowedTools []string, ttl time.Duration) (model.Token, error) {
	if s.keyring.Empty() {
		return model.Token{}, model.NewError(model.CodeInternal, "keyring is empty; process must re-authorize", nil)
	}
	keyID, secret := s.keyring.Active()
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	c := claims{
		Binding:      binding,
		AllowedTools: append([]string(nil), allowedTools...),
		KeyID:        keyID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	tok.Header["kid"] = keyID
	raw, err := tok.SignedString(secret)
	if err != nil {
		return model.Token{}, model.NewError(model.CodeInternal, "sign capability token", err)
	}

	return model.Token{
		Raw: raw,
		Claims: model.BindingClaims{
			Binding:      binding,
			AllowedTools: c.AllowedTools,
			KeyID:        keyID,
			IssuedAt:     now,
			ExpiresAt:    expiresAt,
		},
	}, nil
}

// Verify checks token against expectedBinding and tool, returning a stable
// Code on any failure. The Tool Router never dispatches on any non-nil
// error here.
func (s *Service) Verify(raw string, expectedBinding model.Binding, tool string) (model.BindingClaims, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		secret, ok := s.keyring.Lookup(kid)
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		if err != nil && strings.Contains(err.Error(), "unknown key id") {
			return model.BindingClaims{}, model.NewError(model.CodeUnknownKey, "capability token key is unknown or rotated out", err)
		}
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "expired") {
			return model.BindingClaims{}, model.NewError(model.CodeExpired, "capability token expired", err)
		}
		return model.BindingClaims{}, model.NewError(model.CodeUnknownKey, "capability token is invalid", err)
	}

	if s.isRevoked(raw, c.RunID) {
		return model.BindingClaims{}, model.NewError(model.CodeExpired, "capability token revoked", nil)
	}

	if c.Binding != expectedBinding {
		return model.BindingClaims{}, model.NewError(model.CodeBindingMismatch, "capability token binding does not match current step", nil)
	}

	if !containsTool(c.AllowedTools, tool) {
		return model.BindingClaims{}, model.NewError(model.CodeToolNotPermitted, fmt.Sprintf("tool %q is not in the token's allowed set", tool), nil)
	}

	return model.BindingClaims{
		Binding:      c.Binding,
		AllowedTools: c.AllowedTools,
		KeyID:        c.KeyID,
		IssuedAt:     c.IssuedAt.Time,
		ExpiresAt:    c.ExpiresAt.Time,
	}, nil
}

func containsTool(allowed []string, tool string) bool {
	for _, t := range allowed {
		if strings.EqualFold(t, tool) {
			return true
		}
	}
	return false
}

// Revoke immediately invalidates a specific raw token or every token for a
// run id; future verifications against either fail.
func (s *Service) Revoke(rawToken, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = append(s.revoked, revocationEntry{raw: rawToken, runID: runID})
}

// RevokeAll revokes every outstanding token by wiping the keyring, the
// panic/lock path: no previously-minted token verifies afterward because
// its signing key no longer exists.
func (s *Service) RevokeAll(reason model.RotationReason) {
	s.keyring.Wipe()
}

func (s *Service) isRevoked(raw, runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.revoked {
		if r.raw != "" && r.raw == raw {
			return true
		}
		if r.runID != "" && r.runID == runID {
			return true
		}
	}
	return false
}

// Rotate replaces the active signing key for the given reason, following
// spec §4.2's rotation reasons (document change, nav-gen change, mode
// change, TTL expiry, panic, lock). Previously minted tokens signed by the
// retired key remain verifiable until it ages out of the keyring's
// bounded retired set.
func (s *Service) Rotate(reason model.RotationReason) error {
	if reason == model.RotatePanic {
		s.keyring.Wipe()
		return nil
	}
	return s.keyring.Rotate()
}

// KeyringStatus reports the active signing key id and whether the keyring
// has been wiped (post-panic, or never rotated), for the `sidecar doctor`
// CLI's health report.
func (s *Service) KeyringStatus() (activeKeyID string, empty bool) {
	activeKeyID, _ = s.keyring.Active()
	return activeKeyID, s.keyring.Empty()
}
