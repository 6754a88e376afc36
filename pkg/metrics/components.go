// Package metrics quantifies tumor (or any label) burden as discrete
// connected components with physical volumes, rather than a single
// binary mask.
package metrics

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"hpbviz/pkg/volume"
)

// ComponentVolume describes one spatially connected region within a
// label selection. Derived, read-only, recomputed per pipeline run.
type ComponentVolume struct {
	LabelID    int
	VoxelCount int
	VolumeMM3  float64
	VolumeML   float64
}

// Options selects which voxels to count and how adjacency is defined.
type Options struct {
	// LabelValue isolates a specific label; nil treats the mask as
	// binary (any voxel > 0 is foreground).
	LabelValue *uint8

	// Connectivity is the neighbor rule: 6 (faces), 18 (faces+edges)
	// or 26 (fully connected, diagonal-inclusive).
	Connectivity int
}

// Label returns an Options isolating one label under the given adjacency.
func Label(value uint8, connectivity int) Options {
	return Options{LabelValue: &value, Connectivity: connectivity}
}

// Binary returns an Options treating the mask as binary.
func Binary(connectivity int) Options {
	return Options{Connectivity: connectivity}
}

// neighborOffsets returns the voxel offsets for a connectivity rule.
func neighborOffsets(connectivity int) ([][3]int, error) {
	var maxDist int
	switch connectivity {
	case 6:
		maxDist = 1
	case 18:
		maxDist = 2
	case 26:
		maxDist = 3
	default:
		return nil, fmt.Errorf("connectivity must be 6, 18 or 26, got %d", connectivity)
	}
	var offs [][3]int
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				d := abs(dx) + abs(dy) + abs(dz)
				if d > 0 && d <= maxDist {
					offs = append(offs, [3]int{dx, dy, dz})
				}
			}
		}
	}
	return offs, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ComponentVolumes labels the connected components of the selection and
// reports voxel counts and physical volumes per component. An empty
// selection yields an empty list, not an error. Component IDs follow
// scan order and carry no semantics beyond identity.
func ComponentVolumes(mask *volume.LabelMask, opts Options) ([]ComponentVolume, error) {
	if err := mask.Validate(); err != nil {
		return nil, err
	}
	offs, err := neighborOffsets(opts.Connectivity)
	if err != nil {
		return nil, err
	}

	selected := func(v uint8) bool { return v > 0 }
	if opts.LabelValue != nil {
		want := *opts.LabelValue
		selected = func(v uint8) bool { return v == want }
	}

	nx, ny, nz := mask.Size[0], mask.Size[1], mask.Size[2]
	labels := make([]int32, len(mask.Data))
	voxelVol := mask.VoxelVolume()

	var components []ComponentVolume
	var stack [][3]int

	next := int32(0)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				idx := (k*ny+j)*nx + i
				if labels[idx] != 0 || !selected(mask.Data[idx]) {
					continue
				}

				// Flood fill from this seed.
				next++
				labels[idx] = next
				count := 0
				stack = append(stack[:0], [3]int{i, j, k})
				for len(stack) > 0 {
					p := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					count++
					for _, o := range offs {
						qi, qj, qk := p[0]+o[0], p[1]+o[1], p[2]+o[2]
						if qi < 0 || qi >= nx || qj < 0 || qj >= ny || qk < 0 || qk >= nz {
							continue
						}
						qidx := (qk*ny+qj)*nx + qi
						if labels[qidx] == 0 && selected(mask.Data[qidx]) {
							labels[qidx] = next
							stack = append(stack, [3]int{qi, qj, qk})
						}
					}
				}

				mm3 := float64(count) * voxelVol
				components = append(components, ComponentVolume{
					LabelID:    int(next),
					VoxelCount: count,
					VolumeMM3:  mm3,
					VolumeML:   mm3 / 1000.0,
				})
			}
		}
	}
	return components, nil
}

// Summary aggregates per-component volumes for reporting.
type Summary struct {
	Components []ComponentVolume
	TotalMM3   float64
	TotalML    float64
	MeanML     float64
	MedianML   float64
	LargestML  float64
}

// Summarize computes aggregate tumor-burden figures over a component
// list. Empty input gives zero totals.
func Summarize(components []ComponentVolume) Summary {
	s := Summary{Components: components}
	if len(components) == 0 {
		return s
	}
	mls := make([]float64, len(components))
	for i, c := range components {
		s.TotalMM3 += c.VolumeMM3
		mls[i] = c.VolumeML
		if c.VolumeML > s.LargestML {
			s.LargestML = c.VolumeML
		}
	}
	s.TotalML = s.TotalMM3 / 1000.0
	s.MeanML = stat.Mean(mls, nil)
	sort.Float64s(mls)
	s.MedianML = stat.Quantile(0.5, stat.Empirical, mls, nil)
	return s
}

// TumorSummary is the convenience path the pipeline uses: isolate one
// label, label components, aggregate.
func TumorSummary(mask *volume.LabelMask, label uint8, connectivity int) (Summary, error) {
	components, err := ComponentVolumes(mask, Label(label, connectivity))
	if err != nil {
		return Summary{}, err
	}
	return Summarize(components), nil
}
