package volume

import "math"

// Reconcile guarantees that a mask occupies the same voxel grid as the
// reference geometry before any per-voxel or index-based operation.
//
// Masks already on the reference grid are returned unchanged, so the fast
// path introduces no resampling artifacts. Otherwise the mask is
// resampled onto the reference grid with nearest-neighbour interpolation:
// label IDs are carried over verbatim, never averaged, and voxels that
// fall outside the mask's extent become background (0). The result
// carries the reference spacing, origin and direction.
func Reconcile(mask *LabelMask, ref Geometry) (*LabelMask, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := mask.Validate(); err != nil {
		return nil, err
	}
	if mask.Geometry.Same(ref) {
		return mask, nil
	}

	out := NewLabelMask(ref)
	for k := 0; k < ref.Size[2]; k++ {
		for j := 0; j < ref.Size[1]; j++ {
			for i := 0; i < ref.Size[0]; i++ {
				p := ref.VoxelToWorld(i, j, k)
				idx := mask.WorldToIndex(p)
				mi := int(math.Round(idx[0]))
				mj := int(math.Round(idx[1]))
				mk := int(math.Round(idx[2]))
				if !mask.Contains(mi, mj, mk) {
					continue // stays background
				}
				out.Set(i, j, k, mask.At(mi, mj, mk))
			}
		}
	}
	return out, nil
}
