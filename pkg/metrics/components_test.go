package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpbviz/pkg/volume"
)

func newMask(t *testing.T, n int, spacing float64) *volume.LabelMask {
	t.Helper()
	return volume.NewLabelMask(volume.NewGeometry(n, n, n, spacing, spacing, spacing))
}

func fillBox(m *volume.LabelMask, lo, hi int, label uint8) {
	for k := lo; k <= hi; k++ {
		for j := lo; j <= hi; j++ {
			for i := lo; i <= hi; i++ {
				m.Set(i, j, k, label)
			}
		}
	}
}

func TestComponentVolumesConservesVoxels(t *testing.T) {
	mask := newMask(t, 32, 1.0)
	fillBox(mask, 2, 6, 2)   // 5^3 = 125 voxels
	fillBox(mask, 20, 24, 2) // another 125, well separated

	components, err := ComponentVolumes(mask, Label(2, 26))
	require.NoError(t, err)
	require.Len(t, components, 2)

	total := 0
	for _, c := range components {
		total += c.VoxelCount
		assert.InDelta(t, float64(c.VoxelCount), c.VolumeMM3, 1e-9)
		assert.InDelta(t, c.VolumeMM3/1000.0, c.VolumeML, 1e-12)
	}
	assert.Equal(t, 250, total)
}

func TestComponentVolumesSpacingScalesVolume(t *testing.T) {
	mask := newMask(t, 16, 2.0) // 8 mm^3 per voxel
	fillBox(mask, 4, 8, 1)      // 125 voxels

	components, err := ComponentVolumes(mask, Binary(6))
	require.NoError(t, err)
	require.Len(t, components, 1)
	assert.Equal(t, 125, components[0].VoxelCount)
	assert.InDelta(t, 1000.0, components[0].VolumeMM3, 1e-9)
	assert.InDelta(t, 1.0, components[0].VolumeML, 1e-12)
}

func TestConnectivityAtCorners(t *testing.T) {
	// Two voxels touching only at a corner: one component under 26,
	// two under 6 and 18.
	mask := newMask(t, 8, 1.0)
	mask.Set(3, 3, 3, 1)
	mask.Set(4, 4, 4, 1)

	c26, err := ComponentVolumes(mask, Binary(26))
	require.NoError(t, err)
	assert.Len(t, c26, 1)

	c18, err := ComponentVolumes(mask, Binary(18))
	require.NoError(t, err)
	assert.Len(t, c18, 2)

	c6, err := ComponentVolumes(mask, Binary(6))
	require.NoError(t, err)
	assert.Len(t, c6, 2)
}

func TestConnectivityAtEdges(t *testing.T) {
	// Two voxels sharing only an edge: joined under 18 and 26,
	// separate under 6.
	mask := newMask(t, 8, 1.0)
	mask.Set(3, 3, 3, 1)
	mask.Set(4, 4, 3, 1)

	c6, err := ComponentVolumes(mask, Binary(6))
	require.NoError(t, err)
	assert.Len(t, c6, 2)

	c18, err := ComponentVolumes(mask, Binary(18))
	require.NoError(t, err)
	assert.Len(t, c18, 1)
}

func TestLabelIsolation(t *testing.T) {
	mask := newMask(t, 16, 1.0)
	fillBox(mask, 2, 4, 1)
	fillBox(mask, 8, 10, 2)

	only2, err := ComponentVolumes(mask, Label(2, 26))
	require.NoError(t, err)
	require.Len(t, only2, 1)
	assert.Equal(t, 27, only2[0].VoxelCount)

	both, err := ComponentVolumes(mask, Binary(26))
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestEmptySelection(t *testing.T) {
	mask := newMask(t, 8, 1.0)

	components, err := ComponentVolumes(mask, Binary(26))
	require.NoError(t, err)
	assert.Empty(t, components)

	summary := Summarize(components)
	assert.Zero(t, summary.TotalML)
	assert.Zero(t, summary.LargestML)
}

func TestInvalidConnectivity(t *testing.T) {
	mask := newMask(t, 8, 1.0)
	_, err := ComponentVolumes(mask, Binary(4))
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	components := []ComponentVolume{
		{LabelID: 1, VoxelCount: 1000, VolumeMM3: 1000, VolumeML: 1},
		{LabelID: 2, VoxelCount: 3000, VolumeMM3: 3000, VolumeML: 3},
		{LabelID: 3, VoxelCount: 2000, VolumeMM3: 2000, VolumeML: 2},
	}
	s := Summarize(components)
	assert.InDelta(t, 6000.0, s.TotalMM3, 1e-9)
	assert.InDelta(t, 6.0, s.TotalML, 1e-12)
	assert.InDelta(t, 2.0, s.MeanML, 1e-12)
	assert.InDelta(t, 2.0, s.MedianML, 1e-12)
	assert.InDelta(t, 3.0, s.LargestML, 1e-12)
}

func TestTumorSummary(t *testing.T) {
	mask := newMask(t, 32, 1.0)
	fillBox(mask, 1, 10, 2) // 10^3 = 1000 voxels = 1 mL

	s, err := TumorSummary(mask, 2, 26)
	require.NoError(t, err)
	require.Len(t, s.Components, 1)
	assert.InDelta(t, 1.0, s.TotalML, 1e-9)
	assert.InDelta(t, 1.0, s.LargestML, 1e-9)
}
