// Package pipeline composes a case's CT, liver mask and lesion masks
// into a set of display-ready surfaces plus tumor-burden metrics. The
// liver grid is the reference: every mask is reconciled onto the CT
// before meshing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"hpbviz/pkg/mesh"
	"hpbviz/pkg/metrics"
	"hpbviz/pkg/segment"
	"hpbviz/pkg/volio"
	"hpbviz/pkg/volume"
)

// ErrMissingLiverMask means no liver mask was provided and automatic
// segmentation was not available. The liver defines the reference
// anatomy, so a run cannot proceed without it.
var ErrMissingLiverMask = errors.New("no liver mask available and segmentation is not possible")

// Loader abstracts volume/mask input so tests can inject synthetic
// grids instead of files.
type Loader interface {
	// LoadVolume reads the CT. path may be a NIfTI file or a DICOM
	// directory; seriesUID selects a series within a directory.
	LoadVolume(path, seriesUID string) (*volume.Volume, error)
	LoadMask(path string) (*volume.LabelMask, error)
}

// FileLoader reads real files: DICOM directories, single DICOM files,
// or NIfTI.
type FileLoader struct{}

func (FileLoader) LoadVolume(path, seriesUID string) (*volume.Volume, error) {
	if volio.IsDicomDir(path) {
		return volio.LoadSeries(path, seriesUID)
	}
	if ext := strings.ToLower(path); strings.HasSuffix(ext, ".dcm") {
		return volio.LoadDicomFile(path)
	}
	return volio.LoadVolume(path)
}

func (FileLoader) LoadMask(path string) (*volume.LabelMask, error) {
	return volio.LoadLabelMask(path)
}

// Params names everything one run consumes. Empty optional paths mean
// "not provided".
type Params struct {
	InputPath string
	SeriesUID string

	LiverMaskPath       string
	VesselTumorMaskPath string
	ManualMaskPath      string

	// SaveMaskPath persists the resolved liver mask (useful after
	// automatic segmentation). ExportPath writes the liver surface OBJ.
	SaveMaskPath string
	ExportPath   string

	LiverColor        mesh.RGBA
	VesselTumorLabels mesh.LabelTable
	TumorLabel        uint8
	Connectivity      int
}

// withDefaults fills zero values with the standard hepatic setup.
func (p Params) withDefaults() Params {
	if p.LiverColor == (mesh.RGBA{}) {
		p.LiverColor = mesh.RGBA{0.55, 0.27, 0.25, 0.35}
	}
	if len(p.VesselTumorLabels) == 0 {
		p.VesselTumorLabels = mesh.LabelTable{
			{Key: "hepatic_vessels", Label: 1, Color: mesh.RGBA{0.55, 0.10, 0.10, 1.0}},
			{Key: "liver_tumors", Label: 2, Color: mesh.RGBA{0.95, 0.85, 0.20, 1.0}},
		}
	}
	if p.TumorLabel == 0 {
		p.TumorLabel = 2
	}
	if p.Connectivity == 0 {
		p.Connectivity = 26
	}
	return p
}

// Result is everything the viewer needs for one case.
type Result struct {
	Volume       *volume.Volume
	LiverMask    *volume.LabelMask
	Surfaces     mesh.SurfaceCollection
	Skipped      []mesh.Skip
	TumorMetrics *metrics.Summary
}

// Pipeline is a pure function of its params: no state survives a run.
type Pipeline struct {
	Loader    Loader
	Segmenter segment.Segmenter
	Log       zerolog.Logger
}

// manualPalette colors the first few labels of a provided mask; labels
// beyond it cycle through fallbackColors.
var manualPalette = map[uint8]mesh.RGBA{
	1: {0.25, 0.40, 0.95, 0.85},
	2: {0.10, 0.75, 0.85, 0.80},
	3: {0.85, 0.45, 0.20, 0.80},
}

var fallbackColors = []mesh.RGBA{
	{0.80, 0.25, 0.70, 0.80},
	{0.30, 0.80, 0.30, 0.80},
	{0.90, 0.65, 0.10, 0.80},
	{0.45, 0.45, 0.90, 0.80},
}

// Run executes the composition sequence. Only two failures are fatal:
// an unreadable CT and an unresolvable liver mask. Everything after
// that degrades per structure and is reported through Result.Skipped.
func (p *Pipeline) Run(ctx context.Context, params Params) (*Result, error) {
	params = params.withDefaults()
	res := &Result{Surfaces: mesh.SurfaceCollection{}}

	vol, err := p.Loader.LoadVolume(params.InputPath, params.SeriesUID)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", params.InputPath, err)
	}
	vol, err = volume.CanonicalizeVolume(vol)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing %s: %w", params.InputPath, err)
	}
	res.Volume = vol
	p.Log.Info().
		Ints("size", vol.Size[:]).
		Floats64("spacing", vol.Spacing[:]).
		Msg("reference volume loaded")

	liver, err := p.resolveLiverMask(ctx, params, vol)
	if err != nil {
		return nil, err
	}
	res.LiverMask = liver

	// Liver capsule surface. Failure here is survivable: metrics and
	// other structures do not depend on it.
	if surf, err := mesh.ExtractForegroundSurface(liver); err != nil {
		p.Log.Warn().Err(err).Msg("liver surface extraction failed")
		res.Skipped = append(res.Skipped, mesh.Skip{Key: "liver", Reason: err.Error()})
	} else {
		surf.Color = params.LiverColor
		surf.DisplayName = "Liver"
		surf.LabelSource = "liver"
		res.Surfaces["liver"] = surf
	}

	if params.VesselTumorMaskPath != "" {
		p.addVesselTumor(params, vol, res)
	}

	if params.ManualMaskPath != "" {
		p.addManualSurfaces(params, vol, res)
	}

	// Export failures never discard what was already built.
	if params.ExportPath != "" {
		if surf, ok := res.Surfaces["liver"]; ok {
			if err := mesh.SaveOBJ(params.ExportPath, surf); err != nil {
				p.Log.Warn().Err(err).Str("path", params.ExportPath).Msg("liver surface export failed")
				res.Skipped = append(res.Skipped, mesh.Skip{Key: "export", Reason: err.Error()})
			} else {
				p.Log.Info().Str("path", params.ExportPath).Msg("exported liver surface")
			}
		} else {
			p.Log.Warn().Msg("no liver surface to export")
		}
	}

	if params.SaveMaskPath != "" {
		if err := volio.SaveLabelMask(params.SaveMaskPath, liver); err != nil {
			p.Log.Warn().Err(err).Str("path", params.SaveMaskPath).Msg("liver mask save failed")
			res.Skipped = append(res.Skipped, mesh.Skip{Key: "save_mask", Reason: err.Error()})
		} else {
			p.Log.Info().Str("path", params.SaveMaskPath).Msg("saved liver mask")
		}
	}

	return res, nil
}

// resolveLiverMask loads or computes the binary liver mask on the
// reference grid.
func (p *Pipeline) resolveLiverMask(ctx context.Context, params Params, ref *volume.Volume) (*volume.LabelMask, error) {
	if params.LiverMaskPath != "" {
		mask, err := p.loadMaskOnGrid(params.LiverMaskPath, ref.Geometry)
		if err != nil {
			return nil, fmt.Errorf("liver mask: %w", err)
		}
		for i, v := range mask.Data {
			if v > 0 {
				mask.Data[i] = 1
			}
		}
		return mask, nil
	}

	if p.Segmenter == nil {
		return nil, ErrMissingLiverMask
	}
	p.Log.Info().Msg("no liver mask provided, running automatic segmentation")
	mask, err := p.Segmenter.SegmentLiver(ctx, ref)
	if err != nil {
		if errors.Is(err, segment.ErrUnavailable) {
			return nil, fmt.Errorf("%v: %w", err, ErrMissingLiverMask)
		}
		return nil, fmt.Errorf("automatic liver segmentation: %w", err)
	}
	reconciled, err := volume.Reconcile(mask, ref.Geometry)
	if err != nil {
		return nil, fmt.Errorf("reconciling segmented liver mask: %w", err)
	}
	return reconciled, nil
}

// loadMaskOnGrid loads, canonicalizes and reconciles a mask onto the
// reference grid.
func (p *Pipeline) loadMaskOnGrid(path string, ref volume.Geometry) (*volume.LabelMask, error) {
	mask, err := p.Loader.LoadMask(path)
	if err != nil {
		return nil, err
	}
	mask, err = volume.CanonicalizeMask(mask)
	if err != nil {
		return nil, err
	}
	return volume.Reconcile(mask, ref)
}

// addVesselTumor builds the vessel/tumor surfaces and the tumor
// volumetrics. Both run on the reconciled mask so counts and surfaces
// describe the same grid as the liver; volumetrics still report even
// when every surface fails.
func (p *Pipeline) addVesselTumor(params Params, ref *volume.Volume, res *Result) {
	mask, err := p.loadMaskOnGrid(params.VesselTumorMaskPath, ref.Geometry)
	if err != nil {
		p.Log.Warn().Err(err).Str("path", params.VesselTumorMaskPath).Msg("vessel/tumor mask unusable")
		res.Skipped = append(res.Skipped, skipAll(params.VesselTumorLabels, "mask unusable: "+err.Error())...)
		return
	}

	if summary, err := metrics.TumorSummary(mask, params.TumorLabel, params.Connectivity); err != nil {
		p.Log.Warn().Err(err).Msg("tumor volumetrics failed")
	} else {
		res.TumorMetrics = &summary
		p.Log.Info().
			Int("components", len(summary.Components)).
			Float64("total_ml", summary.TotalML).
			Msg("tumor volumetrics")
	}

	builder := mesh.Builder{Log: p.Log}
	surfaces, skips := builder.Build(mask, params.VesselTumorLabels)
	for key, surf := range surfaces {
		res.Surfaces[key] = surf
	}
	res.Skipped = append(res.Skipped, skips...)
}

// addManualSurfaces builds one surface per label found in a
// user-provided mask.
func (p *Pipeline) addManualSurfaces(params Params, ref *volume.Volume, res *Result) {
	mask, err := p.loadMaskOnGrid(params.ManualMaskPath, ref.Geometry)
	if err != nil {
		p.Log.Warn().Err(err).Str("path", params.ManualMaskPath).Msg("manual mask unreadable")
		res.Skipped = append(res.Skipped, mesh.Skip{Key: "manual_mask", Reason: err.Error()})
		return
	}

	labels := mask.Labels()
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	table := make(mesh.LabelTable, 0, len(labels))
	for n, label := range labels {
		color, ok := manualPalette[label]
		if !ok {
			color = fallbackColors[n%len(fallbackColors)]
		}
		table = append(table, mesh.LabelEntry{
			Key:   fmt.Sprintf("manual_mask_%d", label),
			Label: label,
			Color: color,
		})
	}

	builder := mesh.Builder{Log: p.Log}
	surfaces, skips := builder.Build(mask, table)
	for n, entry := range table {
		surf, ok := surfaces[entry.Key]
		if !ok {
			continue
		}
		// Numbered by position in the sorted label list, not by the
		// raw label value.
		surf.DisplayName = fmt.Sprintf("Provided Mask %d", n+1)
		res.Surfaces[entry.Key] = surf
	}
	res.Skipped = append(res.Skipped, skips...)
}

func skipAll(table mesh.LabelTable, reason string) []mesh.Skip {
	skips := make([]mesh.Skip, 0, len(table))
	for _, entry := range table {
		skips = append(skips, mesh.Skip{Key: entry.Key, Label: entry.Label, Reason: reason})
	}
	return skips
}
