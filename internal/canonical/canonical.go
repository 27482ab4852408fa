// Package canonical produces deterministic, hash-stable serializations of
// event payloads and computes the prev-hash chain that makes a run's event
// log independently verifiable.
//
// The approach is grounded in the pipe-delimited canonical-line pattern
// used by the storelog reference in the examples pack, generalized to a
// canonical JSON form (sorted object keys, UTF-8, no floating timestamps)
// so arbitrary event-kind payloads can be hashed without a hand-rolled
// field-separated format.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal produces the canonical byte form of v: a JSON encoding with all
// object keys sorted and no extraneous whitespace. Two calls with
// semantically equal values always produce byte-identical output.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical: normalize: %w", err)
	}
	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, fmt.Errorf("canonical: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// Hash computes SHA-256(prevHash || payload) and returns its hex encoding.
// prevHash is the empty string for the genesis event.
func Hash(prevHash string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes hash from prevHash and payload and reports whether it
// matches wantHash.
func Verify(prevHash string, payload []byte, wantHash string) bool {
	return Hash(prevHash, payload) == wantHash
}

// Digest returns a short, stable content hash for a payload alone (no
// chain), used for tool.result content hashes and retained digests left
// behind after an event's body is pruned.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
