package mesh

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpbviz/pkg/volume"
)

func vesselTumorTable() LabelTable {
	return LabelTable{
		{Key: "hepatic_vessels", Label: 1, Color: RGBA{0, 0, 1, 1}},
		{Key: "liver_tumors", Label: 2, Color: RGBA{0, 1, 0, 1}},
	}
}

func TestBuildRoundTripColorIdentity(t *testing.T) {
	// Mask contains only label 2: the collection must hold exactly the
	// tumors key with the tumors color, and no vessels key.
	m := volume.NewLabelMask(volume.NewGeometry(24, 24, 24, 1, 1, 1))
	fillCube(m, 8, 15, 2)

	b := &Builder{Log: zerolog.Nop()}
	surfaces, skips := b.Build(m, vesselTumorTable())

	require.Len(t, surfaces, 1)
	tumors, ok := surfaces["liver_tumors"]
	require.True(t, ok)
	assert.Equal(t, RGBA{0, 1, 0, 1}, tumors.Color)
	assert.Equal(t, "Liver Tumors", tumors.DisplayName)
	assert.NotContains(t, surfaces, "hepatic_vessels")

	require.Len(t, skips, 1)
	assert.Equal(t, "hepatic_vessels", skips[0].Key)
	assert.Equal(t, uint8(1), skips[0].Label)
}

func TestBuildSkipsDegenerateWithoutError(t *testing.T) {
	m := volume.NewLabelMask(volume.NewGeometry(16, 16, 16, 1, 1, 1))
	fillCube(m, 2, 9, 1)
	m.Set(13, 13, 13, 2) // single voxel, unmeshable

	b := &Builder{Log: zerolog.Nop()}
	surfaces, skips := b.Build(m, vesselTumorTable())

	assert.Contains(t, surfaces, "hepatic_vessels")
	assert.NotContains(t, surfaces, "liver_tumors")
	require.Len(t, skips, 1)
	assert.Equal(t, "liver_tumors", skips[0].Key)
	assert.Equal(t, "structure too small to mesh", skips[0].Reason)
}

func TestBuildEmptyMaskYieldsOnlySkips(t *testing.T) {
	m := volume.NewLabelMask(volume.NewGeometry(8, 8, 8, 1, 1, 1))
	b := &Builder{Log: zerolog.Nop()}
	surfaces, skips := b.Build(m, vesselTumorTable())
	assert.Empty(t, surfaces)
	assert.Len(t, skips, 2)
}

func TestDisplayName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"hepatic_vessels", "Hepatic Vessels"},
		{"liver", "Liver"},
		{"manual_mask_2", "Manual Mask 2"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.in); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
