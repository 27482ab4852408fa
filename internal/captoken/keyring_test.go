package captoken

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyring_RotateRetainsPreviousKey(t *testing.T) {
	kr, err := NewKeyring(3)
	require.NoError(t, err)

	oldID, oldSecret := kr.Active()
	require.NoError(t, kr.Rotate())
	newID, _ := kr.Active()
	require.NotEqual(t, oldID, newID)

	secret, ok := kr.Lookup(oldID)
	require.True(t, ok)
	require.Equal(t, oldSecret, secret)
}

func TestKeyring_RetiredSetIsBounded(t *testing.T) {
	kr, err := NewKeyring(2)
	require.NoError(t, err)

	var ids []string
	id0, _ := kr.Active()
	ids = append(ids, id0)
	for i := 0; i < 4; i++ {
		require.NoError(t, kr.Rotate())
		id, _ := kr.Active()
		ids = append(ids, id)
	}

	// Only the active key plus the last 2 retired keys should resolve.
	_, ok := kr.Lookup(ids[0])
	require.False(t, ok, "oldest key should have aged out of the bounded retired set")
}

func TestKeyring_WipeClearsEverything(t *testing.T) {
	kr, err := NewKeyring(3)
	require.NoError(t, err)
	id, _ := kr.Active()

	kr.Wipe()
	require.True(t, kr.Empty())

	_, ok := kr.Lookup(id)
	require.False(t, ok)
}
