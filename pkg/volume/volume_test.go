package volume

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Geometry)
		wantErr bool
	}{
		{"valid", func(g *Geometry) {}, false},
		{"zero size", func(g *Geometry) { g.Size[1] = 0 }, true},
		{"negative spacing", func(g *Geometry) { g.Spacing[0] = -1 }, true},
		{"zero spacing", func(g *Geometry) { g.Spacing[2] = 0 }, true},
		{"non-orthonormal direction", func(g *Geometry) { g.Direction[0][0] = 2 }, true},
		{"flipped axis still orthonormal", func(g *Geometry) { g.Direction[2][2] = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGeometry(4, 5, 6, 1, 1, 2)
			tt.mutate(&g)
			err := g.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrGeometry))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestVoxelWorldRoundTrip(t *testing.T) {
	g := Geometry{
		Size:    [3]int{10, 12, 14},
		Spacing: [3]float64{0.7, 0.7, 2.5},
		Origin:  [3]float64{-120, -80, 33},
		// 90 degree rotation about z
		Direction: [3][3]float64{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}},
	}
	require.NoError(t, g.Validate())

	p := g.VoxelToWorld(3, 5, 7)
	idx := g.WorldToIndex(p)
	assert.InDelta(t, 3, idx[0], 1e-9)
	assert.InDelta(t, 5, idx[1], 1e-9)
	assert.InDelta(t, 7, idx[2], 1e-9)
}

func TestVoxelToWorldAxisAligned(t *testing.T) {
	g := NewGeometry(8, 8, 8, 1, 2, 3)
	g.Origin = [3]float64{10, 20, 30}
	p := g.VoxelToWorld(1, 1, 1)
	assert.Equal(t, [3]float64{11, 22, 33}, p)
}

func TestLabelMaskLabels(t *testing.T) {
	m := NewLabelMask(NewGeometry(3, 3, 3, 1, 1, 1))
	m.Set(0, 0, 0, 2)
	m.Set(1, 1, 1, 7)
	m.Set(2, 2, 2, 2)
	assert.Equal(t, []uint8{2, 7}, m.Labels())
}

func TestSummarize(t *testing.T) {
	v := NewVolume(NewGeometry(2, 2, 1, 1, 1, 1))
	copy(v.Data, []float32{0, 2, 4, 6})
	s := Summarize(v)
	assert.Equal(t, float32(0), s.Min)
	assert.Equal(t, float32(6), s.Max)
	assert.InDelta(t, 3.0, s.Mean, 1e-12)
	assert.Equal(t, 4, s.VoxelCount)
}
