package volume

import "math"

// Canonicalization reorients a volume so that voxel axes line up with the
// LPS anatomical convention (x grows to patient left, y posterior, z
// superior), then drops the origin to zero. Every volume entering the
// pipeline passes through here once, so downstream consumers can assume
// axis-aligned, origin-zeroed geometry.

// axisMap describes how canonical voxel axes pull data from the source
// grid: canonical axis a reads source axis perm[a], flipped when flip[a].
type axisMap struct {
	perm [3]int
	flip [3]bool
}

// canonicalAxes derives the dominant-axis permutation from the direction
// cosines. For an orthonormal direction matrix each voxel axis has
// exactly one dominant world axis, so the mapping is well defined.
func canonicalAxes(dir [3][3]float64) axisMap {
	var m axisMap
	used := [3]bool{}
	for c := 0; c < 3; c++ { // voxel axis c
		best, bestAbs := 0, -1.0
		for r := 0; r < 3; r++ { // world axis r
			if a := math.Abs(dir[r][c]); a > bestAbs && !used[r] {
				best, bestAbs = r, a
			}
		}
		used[best] = true
		m.perm[best] = c
		m.flip[best] = dir[best][c] < 0
	}
	return m
}

// CanonicalizeVolume reorients v to LPS with identity direction and zero
// origin. Already-canonical volumes are returned as-is.
func CanonicalizeVolume(v *Volume) (*Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if v.Direction == Identity {
		v.Origin = [3]float64{}
		return v, nil
	}
	m := canonicalAxes(v.Direction)
	g := canonicalGeometry(v.Geometry, m)
	out := &Volume{Geometry: g, Data: reorient(v.Data, v.Geometry, m)}
	return out, nil
}

// CanonicalizeMask is CanonicalizeVolume for label masks.
func CanonicalizeMask(mk *LabelMask) (*LabelMask, error) {
	if err := mk.Validate(); err != nil {
		return nil, err
	}
	if mk.Direction == Identity {
		mk.Origin = [3]float64{}
		return mk, nil
	}
	m := canonicalAxes(mk.Direction)
	g := canonicalGeometry(mk.Geometry, m)
	out := &LabelMask{Geometry: g, Data: reorient(mk.Data, mk.Geometry, m)}
	return out, nil
}

func canonicalGeometry(src Geometry, m axisMap) Geometry {
	var g Geometry
	for a := 0; a < 3; a++ {
		g.Size[a] = src.Size[m.perm[a]]
		g.Spacing[a] = src.Spacing[m.perm[a]]
	}
	g.Direction = Identity
	return g
}

// reorient copies voxels into the canonical axis order, walking the
// output grid and reading the matching source voxel.
func reorient[T float32 | uint8](data []T, src Geometry, m axisMap) []T {
	var dst Geometry
	for a := 0; a < 3; a++ {
		dst.Size[a] = src.Size[m.perm[a]]
	}
	out := make([]T, len(data))
	var di [3]int
	for k := 0; k < dst.Size[2]; k++ {
		di[2] = k
		for j := 0; j < dst.Size[1]; j++ {
			di[1] = j
			for i := 0; i < dst.Size[0]; i++ {
				di[0] = i
				var si [3]int
				for a := 0; a < 3; a++ {
					v := di[a]
					if m.flip[a] {
						v = dst.Size[a] - 1 - v
					}
					si[m.perm[a]] = v
				}
				out[dst.index(i, j, k)] = data[src.index(si[0], si[1], si[2])]
			}
		}
	}
	return out
}
