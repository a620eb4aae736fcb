package freeze

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGobFreezerRoundTrip(t *testing.T) {
	var f GobFreezer
	frozen, err := f.Freeze(map[string]int{"a": 1, "b": 2})
	require.NoError(t, err)
	require.True(t, f.LooksLikeFrozen(frozen))

	thawed, err := f.Thaw(frozen, ThawOptions{})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 1, "b": 2}, thawed)
}

func TestGobFreezerLooksLikeFrozenRejectsUnmarked(t *testing.T) {
	var f GobFreezer
	require.False(t, f.LooksLikeFrozen([]byte("plain text bulk")))
}

func TestGobFreezerThawRejectsUnmarked(t *testing.T) {
	var f GobFreezer
	_, err := f.Thaw([]byte("not frozen"), ThawOptions{})
	require.Error(t, err)
}

func TestGobFreezerNilRoundTrip(t *testing.T) {
	var f GobFreezer
	frozen, err := f.Freeze(nil)
	require.NoError(t, err)
	require.True(t, f.LooksLikeFrozen(frozen))

	thawed, err := f.Thaw(frozen, ThawOptions{})
	require.NoError(t, err)
	require.Nil(t, thawed)
}
