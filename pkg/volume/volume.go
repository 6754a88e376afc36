// Package volume defines the in-memory model for CT volumes and label
// masks: a flat voxel array plus the physical geometry (spacing, origin,
// direction cosines) needed to map voxel indices to world millimeters.
// It also provides the geometric operations every other package relies
// on: orientation canonicalization and grid reconciliation.
package volume

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrGeometry marks invalid or incompatible volume geometry. Concrete
// failures wrap it via GeometryError, so callers can test with errors.Is.
var ErrGeometry = errors.New("invalid volume geometry")

// GeometryError describes why a volume's geometry is unusable.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return "invalid volume geometry: " + e.Reason
}

func (e *GeometryError) Unwrap() error { return ErrGeometry }

func geometryErrorf(format string, args ...interface{}) error {
	return &GeometryError{Reason: fmt.Sprintf(format, args...)}
}

// Geometry is the physical placement of a voxel grid: size in voxels,
// spacing in mm, origin in mm, and a 3x3 orthonormal direction matrix
// (rotation, possibly with reflection). Voxel (i,j,k) maps to
// origin + direction * (i*sx, j*sy, k*sz).
type Geometry struct {
	// Size is the grid extent in voxels along x, y, z.
	Size [3]int

	// Spacing is the voxel edge length in mm along x, y, z. Always > 0.
	Spacing [3]float64

	// Origin is the world position of voxel (0,0,0) in mm.
	Origin [3]float64

	// Direction holds the direction cosines as rows of world-axis
	// components: Direction[r][c] is the contribution of voxel axis c
	// to world axis r.
	Direction [3][3]float64
}

// Identity is the axis-aligned direction matrix.
var Identity = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// NewGeometry returns an axis-aligned geometry with the given size and
// spacing, zero origin, and identity direction.
func NewGeometry(nx, ny, nz int, sx, sy, sz float64) Geometry {
	return Geometry{
		Size:      [3]int{nx, ny, nz},
		Spacing:   [3]float64{sx, sy, sz},
		Direction: Identity,
	}
}

// Validate checks the invariants every pipeline stage assumes: a real
// 3D grid, strictly positive spacing, and an orthonormal direction matrix.
func (g Geometry) Validate() error {
	for i := 0; i < 3; i++ {
		if g.Size[i] <= 0 {
			return geometryErrorf("size[%d] = %d, want > 0", i, g.Size[i])
		}
		if !(g.Spacing[i] > 0) {
			return geometryErrorf("spacing[%d] = %g, want > 0", i, g.Spacing[i])
		}
	}
	if !orthonormal(g.Direction) {
		return geometryErrorf("direction matrix is not orthonormal")
	}
	return nil
}

// orthonormal reports whether m's columns are unit length and mutually
// orthogonal, within a small tolerance.
func orthonormal(m [3][3]float64) bool {
	// DICOM stores direction cosines as truncated decimal strings, so
	// the tolerance must absorb per-component rounding of ~1e-6.
	const tol = 1e-4
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			var dot float64
			for r := 0; r < 3; r++ {
				dot += m[r][a] * m[r][b]
			}
			want := 0.0
			if a == b {
				want = 1.0
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	return true
}

// NumVoxels returns the total grid size.
func (g Geometry) NumVoxels() int {
	return g.Size[0] * g.Size[1] * g.Size[2]
}

// VoxelVolume returns the physical volume of one voxel in mm^3.
func (g Geometry) VoxelVolume() float64 {
	return g.Spacing[0] * g.Spacing[1] * g.Spacing[2]
}

// Same reports whether two grids are exactly identical (size, spacing,
// origin, direction). This is the reconciliation fast-path predicate:
// only exact matches skip resampling.
func (g Geometry) Same(o Geometry) bool {
	return g.Size == o.Size && g.Spacing == o.Spacing && g.Origin == o.Origin && g.Direction == o.Direction
}

// VoxelToWorld maps a voxel index to its world coordinate in mm.
func (g Geometry) VoxelToWorld(i, j, k int) [3]float64 {
	v := [3]float64{float64(i) * g.Spacing[0], float64(j) * g.Spacing[1], float64(k) * g.Spacing[2]}
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = g.Origin[r] + g.Direction[r][0]*v[0] + g.Direction[r][1]*v[1] + g.Direction[r][2]*v[2]
	}
	return p
}

// WorldToIndex maps a world coordinate to a continuous voxel index.
// The direction matrix is orthonormal, so its inverse is its transpose.
func (g Geometry) WorldToIndex(p [3]float64) [3]float64 {
	d := [3]float64{p[0] - g.Origin[0], p[1] - g.Origin[1], p[2] - g.Origin[2]}
	var idx [3]float64
	for c := 0; c < 3; c++ {
		v := g.Direction[0][c]*d[0] + g.Direction[1][c]*d[1] + g.Direction[2][c]*d[2]
		idx[c] = v / g.Spacing[c]
	}
	return idx
}

// Contains reports whether the voxel index is inside the grid.
func (g Geometry) Contains(i, j, k int) bool {
	return i >= 0 && i < g.Size[0] && j >= 0 && j < g.Size[1] && k >= 0 && k < g.Size[2]
}

// index converts (i,j,k) to the flat offset. Data is stored z-major
// (z, then y, then x), matching the slice order volumes are read in.
func (g Geometry) index(i, j, k int) int {
	return (k*g.Size[1]+j)*g.Size[0] + i
}

// Volume is a 3D scalar grid, typically CT intensities in Hounsfield
// units after rescale.
type Volume struct {
	Geometry
	Data []float32
}

// NewVolume allocates a zero-filled scalar volume on the given geometry.
func NewVolume(g Geometry) *Volume {
	return &Volume{Geometry: g, Data: make([]float32, g.NumVoxels())}
}

// At returns the scalar value at voxel (i,j,k).
func (v *Volume) At(i, j, k int) float32 { return v.Data[v.index(i, j, k)] }

// Set stores a scalar value at voxel (i,j,k).
func (v *Volume) Set(i, j, k int, val float32) { v.Data[v.index(i, j, k)] = val }

// LabelMask is an integer-valued volume; label 0 means background.
type LabelMask struct {
	Geometry
	Data []uint8
}

// NewLabelMask allocates a background-filled mask on the given geometry.
func NewLabelMask(g Geometry) *LabelMask {
	return &LabelMask{Geometry: g, Data: make([]uint8, g.NumVoxels())}
}

// At returns the label at voxel (i,j,k).
func (m *LabelMask) At(i, j, k int) uint8 { return m.Data[m.index(i, j, k)] }

// Set stores a label at voxel (i,j,k).
func (m *LabelMask) Set(i, j, k int, label uint8) { m.Data[m.index(i, j, k)] = label }

// Labels returns the distinct nonzero labels present, in ascending order.
func (m *LabelMask) Labels() []uint8 {
	var seen [256]bool
	for _, v := range m.Data {
		seen[v] = true
	}
	var out []uint8
	for l := 1; l < 256; l++ {
		if seen[l] {
			out = append(out, uint8(l))
		}
	}
	return out
}

// Stats summarizes the intensity distribution of a volume. It backs the
// case summary printed by the CLI.
type Stats struct {
	Min, Max   float32
	Mean       float64
	StdDev     float64
	VoxelCount int
}

// Summarize computes intensity statistics over the whole volume.
func Summarize(v *Volume) Stats {
	s := Stats{VoxelCount: len(v.Data)}
	if len(v.Data) == 0 {
		return s
	}
	s.Min, s.Max = v.Data[0], v.Data[0]
	vals := make([]float64, len(v.Data))
	for i, d := range v.Data {
		if d < s.Min {
			s.Min = d
		}
		if d > s.Max {
			s.Max = d
		}
		vals[i] = float64(d)
	}
	s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
	return s
}
