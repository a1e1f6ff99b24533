package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBBox(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		b, err := ParseBBox("-104.705 43.480 -103.264 44.652")
		require.NoError(t, err)
		assert.Equal(t, -104.705, b.West)
		assert.Equal(t, 43.480, b.South)
		assert.Equal(t, -103.264, b.East)
		assert.Equal(t, 44.652, b.North)
		require.NoError(t, b.Validate())
	})

	t.Run("too few tokens", func(t *testing.T) {
		_, err := ParseBBox("-104.705 43.480 -103.264")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "minx miny maxx maxy")
	})

	t.Run("too many tokens", func(t *testing.T) {
		_, err := ParseBBox("1 2 3 4 5")
		require.Error(t, err)
	})

	t.Run("non-numeric token", func(t *testing.T) {
		_, err := ParseBBox("a b c d")
		require.Error(t, err)
	})
}

func TestBBoxValidate(t *testing.T) {
	b := BBox{North: 1, South: 2, East: 3, West: 0}
	require.Error(t, b.Validate())

	b = BBox{North: 2, South: 1, East: 0, West: 3}
	require.Error(t, b.Validate())

	require.NoError(t, BlackHills.Validate())
	require.NoError(t, BlackHillsMercator.Validate())
}

func TestBBoxStrings(t *testing.T) {
	assert.Equal(t, "-104.705 43.48 -103.264 44.652", BlackHills.String())
	assert.Equal(t, "43.48,-104.705,44.652,-103.264", BlackHills.OverpassString())
}

func TestRoundTripBBoxString(t *testing.T) {
	b, err := ParseBBox(BlackHills.String())
	require.NoError(t, err)
	assert.InDelta(t, BlackHills.West, b.West, 1e-9)
	assert.InDelta(t, BlackHills.North, b.North, 1e-9)
}
