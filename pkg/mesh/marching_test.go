package mesh

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpbviz/pkg/volume"
)

// fillCube sets label over the inclusive voxel range [lo,hi] on each axis.
func fillCube(m *volume.LabelMask, lo, hi int, label uint8) {
	for k := lo; k <= hi; k++ {
		for j := lo; j <= hi; j++ {
			for i := lo; i <= hi; i++ {
				m.Set(i, j, k, label)
			}
		}
	}
}

func TestExtractCubeSurface(t *testing.T) {
	m := volume.NewLabelMask(volume.NewGeometry(64, 64, 64, 1, 1, 1))
	fillCube(m, 17, 46, 1)

	s, err := ExtractForegroundSurface(m)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	// The surface hugs the outermost foreground voxel centers.
	min, max := s.Bounds()
	for a := 0; a < 3; a++ {
		assert.InDelta(t, 17, min[a], 1.0, "min axis %d", a)
		assert.InDelta(t, 46, max[a], 1.0, "max axis %d", a)
	}
	assert.Greater(t, s.FaceCount(), 100)
}

func TestExtractSphereTriangleCount(t *testing.T) {
	size := 20
	m := volume.NewLabelMask(volume.NewGeometry(size, size, size, 1, 1, 1))
	center := float64(size) / 2
	radius := float64(size) / 4
	for k := 0; k < size; k++ {
		for j := 0; j < size; j++ {
			for i := 0; i < size; i++ {
				dx, dy, dz := float64(i)-center, float64(j)-center, float64(k)-center
				if math.Sqrt(dx*dx+dy*dy+dz*dz) < radius {
					m.Set(i, j, k, 1)
				}
			}
		}
	}

	s, err := ExtractForegroundSurface(m)
	require.NoError(t, err)

	// A sphere at this resolution yields a substantial triangle count.
	if s.FaceCount() < 100 {
		t.Errorf("expected at least 100 faces for sphere, got %d", s.FaceCount())
	}
}

func TestExtractLabelIsolation(t *testing.T) {
	m := volume.NewLabelMask(volume.NewGeometry(32, 32, 32, 1, 1, 1))
	fillCube(m, 2, 9, 1)
	// Label 2 occupies a distinct block.
	for k := 20; k <= 27; k++ {
		for j := 20; j <= 27; j++ {
			for i := 20; i <= 27; i++ {
				m.Set(i, j, k, 2)
			}
		}
	}
	m.Set(15, 15, 15, 3)

	s, err := ExtractLabelSurface(m, 2)
	require.NoError(t, err)
	min, max := s.Bounds()
	for a := 0; a < 3; a++ {
		assert.GreaterOrEqual(t, float64(min[a]), 19.0)
		assert.LessOrEqual(t, float64(max[a]), 28.0)
	}

	_, err = ExtractLabelSurface(m, 5)
	assert.ErrorIs(t, err, ErrEmptyMask)
}

func TestExtractEmptyMask(t *testing.T) {
	m := volume.NewLabelMask(volume.NewGeometry(8, 8, 8, 1, 1, 1))
	_, err := ExtractForegroundSurface(m)
	assert.ErrorIs(t, err, ErrEmptyMask)
}

func TestExtractSingleVoxelIsDegenerate(t *testing.T) {
	m := volume.NewLabelMask(volume.NewGeometry(9, 9, 9, 1, 1, 1))
	m.Set(4, 4, 4, 1)

	_, err := ExtractForegroundSurface(m)
	assert.ErrorIs(t, err, ErrDegenerateMesh)
}

func TestExtractVerticesInWorldCoordinates(t *testing.T) {
	g := volume.NewGeometry(10, 10, 10, 0.5, 0.5, 2.0)
	g.Origin = [3]float64{-10, 5, 100}
	m := volume.NewLabelMask(g)
	fillCube(m, 3, 6, 1)

	s, err := ExtractForegroundSurface(m)
	require.NoError(t, err)

	min, max := s.Bounds()
	// Voxel centers 3..6 scaled by spacing and shifted by origin.
	assert.InDelta(t, -10+3*0.5, float64(min[0]), 1e-5)
	assert.InDelta(t, -10+6*0.5, float64(max[0]), 1e-5)
	assert.InDelta(t, 100+3*2.0, float64(min[2]), 1e-5)
	assert.InDelta(t, 100+6*2.0, float64(max[2]), 1e-5)
}

func TestExtractStructureTouchingBoundary(t *testing.T) {
	m := volume.NewLabelMask(volume.NewGeometry(6, 6, 6, 1, 1, 1))
	fillCube(m, 0, 5, 1) // fills the whole grid

	s, err := ExtractForegroundSurface(m)
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	assert.Greater(t, s.FaceCount(), 0)
}
