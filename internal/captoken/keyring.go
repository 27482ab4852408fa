// Package captoken implements the Capability Token Service of spec §4.2:
// short-lived, signed tokens binding one run step to a specific page
// identity and autonomy mode.
//
// Tokens are JWTs (golang-jwt/jwt/v5, HS256), following the shape of the
// teacher's internal/auth.JWTService but extended with a rotating,
// multi-key in-memory keyring (so in-flight verifications survive a
// rotation) and a revocation predicate list. Tokens never touch disk; the
// keyring is one of the two permitted process-global singletons (the
// other is the clock), and a panic wipes it synchronously before any new
// token can be minted.
package captoken

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// keyEntry is one keyring key: an id and its HMAC secret.
type keyEntry struct {
	id     string
	secret []byte
}

// Keyring holds the active signing key plus a small bounded set of
// recently-retired keys, so verifications in flight at rotation time still
// succeed. It is the only mutable global the Capability Token Service
// needs beyond the clock.
type Keyring struct {
	mu       sync.RWMutex
	active   keyEntry
	retired  []keyEntry
	maxKeep  int
}

// NewKeyring mints an initial random signing key and returns a ready
// keyring. maxKeep bounds how many retired keys are kept for in-flight
// verifications; <= 0 defaults to 3.
func NewKeyring(maxKeep int) (*Keyring, error) {
	if maxKeep <= 0 {
		maxKeep = 3
	}
	k := &Keyring{maxKeep: maxKeep}
	if err := k.rotateLocked(); err != nil {
		return nil, err
	}
	return k, nil
}

func randomKeyID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func randomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (k *Keyring) rotateLocked() error {
	id, err := randomKeyID()
	if err != nil {
		return err
	}
	secret, err := randomSecret()
	if err != nil {
		return err
	}
	if k.active.id != "" {
		k.retired = append([]keyEntry{k.active}, k.retired...)
		if len(k.retired) > k.maxKeep {
			k.retired = k.retired[:k.maxKeep]
		}
	}
	k.active = keyEntry{id: id, secret: secret}
	return nil
}

// Rotate replaces the active key, retaining the previous one for
// in-flight verifications.
func (k *Keyring) Rotate() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rotateLocked()
}

// Active returns the current signing key.
func (k *Keyring) Active() (id string, secret []byte) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active.id, k.active.secret
}

// Lookup finds the secret for keyID among the active and retired keys.
func (k *Keyring) Lookup(keyID string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if keyID == k.active.id {
		return k.active.secret, true
	}
	for _, e := range k.retired {
		if e.id == keyID {
			return e.secret, true
		}
	}
	return nil, false
}

// Wipe clears every key synchronously, so no token minted before the wipe
// can be verified afterward. Called on process panic per spec §9's
// global-mutable-state discipline.
func (k *Keyring) Wipe() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.active = keyEntry{}
	k.retired = nil
}

// Empty reports whether the keyring holds no active key (post-wipe, or
// before the first rotate).
func (k *Keyring) Empty() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active.id == ""
}
