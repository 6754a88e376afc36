package mesh

import (
	"errors"

	"github.com/rs/zerolog"

	"hpbviz/pkg/volume"
)

// LabelEntry binds one label ID in a multi-label mask to its structure
// key and display color. Tables are configuration, not code: adding a
// structure never touches extraction logic.
type LabelEntry struct {
	Key   string `yaml:"key"`
	Label uint8  `yaml:"label"`
	Color RGBA   `yaml:"color"`
}

// LabelTable is an ordered label→(key, color) mapping. Iteration order
// is the declared order, not numeric order.
type LabelTable []LabelEntry

// Skip records a label that produced no surface and why. Partial success
// is the normal case: not every scan has tumors or vessels.
type Skip struct {
	Key    string
	Label  uint8
	Reason string
}

// Builder extracts one surface per label-table entry from a multi-label
// mask. Missing or unmeshable labels are skipped and logged, never
// raised; the only errors a caller sees happen before extraction (an
// unreadable or unreconcilable mask).
type Builder struct {
	Log zerolog.Logger
}

// Build runs the extractor once per table entry, in table order, and
// attaches display metadata to each produced surface. The returned skips
// describe, per label, why a surface is absent.
func (b *Builder) Build(mask *volume.LabelMask, table LabelTable) (SurfaceCollection, []Skip) {
	out := make(SurfaceCollection, len(table))
	var skips []Skip

	for _, entry := range table {
		surf, err := ExtractLabelSurface(mask, entry.Label)
		if err != nil {
			reason := "extraction failed: " + err.Error()
			switch {
			case errors.Is(err, ErrEmptyMask):
				reason = "no voxels with this label"
			case errors.Is(err, ErrDegenerateMesh):
				reason = "structure too small to mesh"
			}
			b.Log.Info().
				Str("structure", entry.Key).
				Uint8("label", entry.Label).
				Str("reason", reason).
				Msg("skipping structure")
			skips = append(skips, Skip{Key: entry.Key, Label: entry.Label, Reason: reason})
			continue
		}

		surf.Color = entry.Color
		surf.DisplayName = DisplayName(entry.Key)
		surf.LabelSource = entry.Key
		out[entry.Key] = surf
		b.Log.Info().
			Str("structure", entry.Key).
			Int("vertices", surf.VertexCount()).
			Int("faces", surf.FaceCount()).
			Msg("built surface")
	}
	return out, skips
}
