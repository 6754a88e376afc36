package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpbviz/pkg/mesh"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 26, cfg.Metrics.Connectivity)
	assert.Equal(t, uint8(2), cfg.Metrics.TumorLabel)
	assert.Len(t, cfg.Surfaces.VesselTumor, 2)
	assert.Equal(t, "hepatic_vessels", cfg.Surfaces.VesselTumor[0].Key)
	assert.NoError(t, cfg.validate())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
paths:
  rawRoot: /scans/raw
segmentation:
  server: http://seg.internal:8080
  fast: true
metrics:
  connectivity: 6
window:
  center: 40
  width: 350
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/scans/raw", cfg.Paths.RawRoot)
	assert.Equal(t, "http://seg.internal:8080", cfg.Segmentation.Server)
	assert.True(t, cfg.Segmentation.Fast)
	assert.Equal(t, 6, cfg.Metrics.Connectivity)
	assert.Equal(t, 350.0, cfg.Window.Width)
	// Untouched sections keep their defaults.
	assert.Equal(t, "data/output", cfg.Paths.OutputRoot)
	assert.Len(t, cfg.Surfaces.VesselTumor, 2)
}

func TestLoadConfigRejectsBadConnectivity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  connectivity: 4\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.RawRoot = "/tmp/cases"
	cfg.Surfaces.VesselTumor = append(cfg.Surfaces.VesselTumor,
		mesh.LabelEntry{Key: "portal_vein", Label: 3, Color: mesh.RGBA{0.2, 0.2, 0.9, 1}})

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadConfigRejectsDuplicateKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
surfaces:
  vesselTumor:
    - {key: liver_tumors, label: 1}
    - {key: liver_tumors, label: 2}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
