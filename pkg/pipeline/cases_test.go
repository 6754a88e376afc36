package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpbviz/pkg/volume"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, nil, 0644))
}

func TestStripCaseName(t *testing.T) {
	assert.Equal(t, "case7", stripCaseName("case7.nii.gz"))
	assert.Equal(t, "case7", stripCaseName("case7.nii"))
	assert.Equal(t, "case7", stripCaseName("case7_dicom"))
	assert.Equal(t, "case7", stripCaseName("case7_dicoms"))
	assert.Equal(t, "case7", stripCaseName("case7"))
}

func TestMaskKind(t *testing.T) {
	assert.Equal(t, "liver", maskKind("case1_liver.nii.gz"))
	assert.Equal(t, "vesseltumor", maskKind("case1_task008.nii.gz"))
	assert.Equal(t, "vesseltumor", maskKind("hepatic_vessels.nii.gz"))
	assert.Equal(t, "vesseltumor", maskKind("case1_liver_tumors.nii.gz"))
	assert.Equal(t, "manual", maskKind("case1_input_mask.nii.gz"))
	assert.Equal(t, "manual", maskKind("manual_roi.nii.gz"))
	assert.Equal(t, "", maskKind("case1.nii.gz"))
}

func TestDiscoverCases(t *testing.T) {
	raw := t.TempDir()
	out := t.TempDir()

	// Flat NIfTI case.
	touch(t, filepath.Join(raw, "case1.nii.gz"))
	touch(t, filepath.Join(out, "case1", "case1_liver.nii.gz"))
	touch(t, filepath.Join(out, "case1", "case1_task008.nii.gz"))

	// DICOM directory case with a flat mask in the output root.
	touch(t, filepath.Join(raw, "case2_dicom", "IM0001"))
	touch(t, filepath.Join(out, "case2_liver.nii.gz"))

	// NIfTI folder case carrying its own manual mask.
	touch(t, filepath.Join(raw, "case3", "case3.nii.gz"))
	touch(t, filepath.Join(raw, "case3", "case3_manual_mask.nii.gz"))

	// A bare mask file in the raw root is not a case.
	touch(t, filepath.Join(raw, "stray_mask.nii.gz"))

	cases, err := DiscoverCases(raw, out)
	require.NoError(t, err)
	require.Len(t, cases, 3)

	assert.Equal(t, "case1", cases[0].Name)
	assert.Equal(t, filepath.Join(raw, "case1.nii.gz"), cases[0].InputPath)
	assert.Equal(t, filepath.Join(out, "case1", "case1_liver.nii.gz"), cases[0].LiverMaskPath)
	assert.Equal(t, filepath.Join(out, "case1", "case1_task008.nii.gz"), cases[0].VesselTumorMaskPath)

	assert.Equal(t, "case2", cases[1].Name)
	assert.Equal(t, filepath.Join(raw, "case2_dicom"), cases[1].InputPath)
	assert.Equal(t, filepath.Join(out, "case2_liver.nii.gz"), cases[1].LiverMaskPath)

	assert.Equal(t, "case3", cases[2].Name)
	assert.Equal(t, filepath.Join(raw, "case3", "case3.nii.gz"), cases[2].InputPath)
	assert.Equal(t, filepath.Join(raw, "case3", "case3_manual_mask.nii.gz"), cases[2].ManualMaskPath)
}

func TestDiscoverCasesMissingRawRoot(t *testing.T) {
	_, err := DiscoverCases(filepath.Join(t.TempDir(), "nope"), "")
	assert.Error(t, err)
}

// countingLoader counts volume loads to prove memoization.
type countingLoader struct {
	fakeLoader
	loads int
}

func (c *countingLoader) LoadVolume(path, seriesUID string) (*volume.Volume, error) {
	c.loads++
	return c.fakeLoader.LoadVolume(path, seriesUID)
}

func TestSessionMemoizesRuns(t *testing.T) {
	g := volume.NewGeometry(16, 16, 16, 1, 1, 1)
	loader := &countingLoader{fakeLoader: fakeLoader{
		volumes: map[string]*volume.Volume{"ct": volume.NewVolume(g)},
		masks:   map[string]*volume.LabelMask{"liver": cubeMask(g, 4, 12, 1)},
	}}
	p := &Pipeline{Loader: loader, Log: zerolog.Nop()}

	s := NewSession(p, []Case{{Name: "case1", InputPath: "ct", LiverMaskPath: "liver"}}, Params{})
	assert.Equal(t, []string{"case1"}, s.Cases())

	first, err := s.Load(context.Background(), "case1")
	require.NoError(t, err)
	second, err := s.Load(context.Background(), "case1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, loader.loads)

	_, err = s.Load(context.Background(), "unknown")
	assert.Error(t, err)
}
