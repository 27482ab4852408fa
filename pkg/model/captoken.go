package model

import "time"

// RotationReason names why a capability token rotation occurred.
type RotationReason string

const (
	RotateDocumentChange RotationReason = "document_change"
	RotateNavGenChange   RotationReason = "nav_gen_change"
	RotateModeChange     RotationReason = "mode_change"
	RotateTTLExpiry      RotationReason = "ttl_expiry"
	RotatePanic          RotationReason = "panic"
	RotateLock           RotationReason = "lock"
)

// Binding is the tuple a capability token is scoped to. It never persists
// across a process restart; a fresh binding requires a fresh mint.
type Binding struct {
	RunID         string `json:"run_id"`
	ProfileID     string `json:"profile_id"`
	Origin        string `json:"origin"`
	TabID         string `json:"tab_id"`
	DocumentID    string `json:"document_id"`
	NavigationGen int64  `json:"navigation_generation"`
	Mode          Mode   `json:"mode"`
}

// BindingClaims is the JWT claim set carried by a capability token: the
// binding tuple plus the allowed tool set, key id, and standard timestamps.
type BindingClaims struct {
	Binding
	AllowedTools []string `json:"allowed_tools"`
	KeyID        string   `json:"key_id"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Token is the minted, serialized capability token handed to a caller.
type Token struct {
	Raw     string    `json:"raw"`
	Claims  BindingClaims `json:"claims"`
}
