package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileFastPath(t *testing.T) {
	g := NewGeometry(8, 8, 8, 1, 1, 1)
	ref := g
	m := NewLabelMask(g)
	for i := range m.Data {
		m.Data[i] = uint8(i % 3)
	}

	out, err := Reconcile(m, ref)
	require.NoError(t, err)
	// Same grid: the mask comes back untouched, bit for bit.
	assert.Same(t, m, out)
	assert.Equal(t, m.Data, out.Data)
}

func TestReconcileResamplesToReferenceGrid(t *testing.T) {
	// Mask at 2mm spacing, reference at 1mm: every mask voxel covers a
	// 2x2x2 block of reference voxels under nearest-neighbour.
	mg := NewGeometry(4, 4, 4, 2, 2, 2)
	m := NewLabelMask(mg)
	m.Set(1, 1, 1, 3)

	ref := NewGeometry(8, 8, 8, 1, 1, 1)
	out, err := Reconcile(m, ref)
	require.NoError(t, err)
	assert.Equal(t, ref, out.Geometry)

	// Reference voxels at world coords rounding to mask voxel (1,1,1)
	// carry label 3; label values are copied, never blended.
	assert.Equal(t, uint8(3), out.At(2, 2, 2))
	assert.Equal(t, uint8(0), out.At(0, 0, 0))
	for _, v := range out.Data {
		assert.Contains(t, []uint8{0, 3}, v)
	}
}

func TestReconcileOutOfBoundsIsBackground(t *testing.T) {
	mg := NewGeometry(2, 2, 2, 1, 1, 1)
	m := NewLabelMask(mg)
	for i := range m.Data {
		m.Data[i] = 1
	}

	ref := NewGeometry(6, 6, 6, 1, 1, 1)
	ref.Origin = [3]float64{-2, -2, -2}
	out, err := Reconcile(m, ref)
	require.NoError(t, err)

	// The mask occupies only the central 2x2x2 world region.
	assert.Equal(t, uint8(0), out.At(0, 0, 0))
	assert.Equal(t, uint8(1), out.At(2, 2, 2))
	assert.Equal(t, uint8(0), out.At(5, 5, 5))
}

func TestReconcileRejectsInvalidReference(t *testing.T) {
	m := NewLabelMask(NewGeometry(2, 2, 2, 1, 1, 1))
	bad := NewGeometry(2, 2, 2, 1, 1, 1)
	bad.Spacing[0] = 0
	_, err := Reconcile(m, bad)
	require.Error(t, err)
}
