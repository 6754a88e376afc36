package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeIdentityDropsOrigin(t *testing.T) {
	v := NewVolume(NewGeometry(4, 4, 4, 1, 1, 1))
	v.Origin = [3]float64{-100, -50, 200}
	v.Set(1, 2, 3, 42)

	out, err := CanonicalizeVolume(v)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0, 0, 0}, out.Origin)
	assert.Equal(t, Identity, out.Direction)
	// Identity direction: data untouched.
	assert.Equal(t, float32(42), out.At(1, 2, 3))
}

func TestCanonicalizeFlippedAxis(t *testing.T) {
	g := NewGeometry(3, 3, 3, 1, 1, 2)
	g.Direction[2][2] = -1 // z runs superior-to-inferior
	v := NewVolume(g)
	v.Set(0, 0, 0, 1)
	v.Set(0, 0, 2, 9)

	out, err := CanonicalizeVolume(v)
	require.NoError(t, err)
	assert.Equal(t, Identity, out.Direction)
	// The z axis is reversed.
	assert.Equal(t, float32(9), out.At(0, 0, 0))
	assert.Equal(t, float32(1), out.At(0, 0, 2))
	assert.Equal(t, 2.0, out.Spacing[2])
}

func TestCanonicalizePermutedAxes(t *testing.T) {
	// Voxel x axis points along world y and vice versa.
	g := Geometry{
		Size:      [3]int{2, 3, 4},
		Spacing:   [3]float64{1.5, 2.5, 3.5},
		Direction: [3][3]float64{{0, 1, 0}, {1, 0, 0}, {0, 0, 1}},
	}
	m := NewLabelMask(g)
	m.Set(1, 2, 3, 5)

	out, err := CanonicalizeMask(m)
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 2, 4}, out.Size)
	assert.Equal(t, [3]float64{2.5, 1.5, 3.5}, out.Spacing)
	assert.Equal(t, uint8(5), out.At(2, 1, 3))

	// A second pass is a no-op.
	again, err := CanonicalizeMask(out)
	require.NoError(t, err)
	assert.Equal(t, out.Data, again.Data)
	assert.Equal(t, out.Geometry, again.Geometry)
}

func TestCanonicalizeRejectsInvalidGeometry(t *testing.T) {
	v := &Volume{Geometry: NewGeometry(0, 1, 1, 1, 1, 1)}
	_, err := CanonicalizeVolume(v)
	require.Error(t, err)
}
