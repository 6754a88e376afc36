package mesh

import (
	"hpbviz/pkg/volume"
)

// The extractor contours the selection at the label value itself, the
// way the original discrete marching-cubes setup did: on a 0/1 selection
// grid the iso-crossing lands on foreground voxel centers, so the
// surface hugs the outermost selected voxels. Cells are marched over a
// one-voxel padding so structures touching the grid boundary still get
// closed off. Vertices produced by different cells on the same lattice
// position are welded, and triangles that collapse under welding are
// dropped; a selection whose whole surface collapses (a lone voxel, a
// voxel pair) is reported as degenerate rather than returned malformed.

// ExtractLabelSurface meshes the voxels equal to label.
func ExtractLabelSurface(mask *volume.LabelMask, label uint8) (*Surface, error) {
	return extract(mask, func(v uint8) bool { return v == label })
}

// ExtractForegroundSurface meshes every nonzero voxel, treating the mask
// as binary.
func ExtractForegroundSurface(mask *volume.LabelMask) (*Surface, error) {
	return extract(mask, func(v uint8) bool { return v > 0 })
}

func extract(mask *volume.LabelMask, selected func(uint8) bool) (*Surface, error) {
	if err := mask.Validate(); err != nil {
		return nil, err
	}

	nx, ny, nz := mask.Size[0], mask.Size[1], mask.Size[2]
	inside := make([]bool, len(mask.Data))
	any := false
	for i, v := range mask.Data {
		if selected(v) {
			inside[i] = true
			any = true
		}
	}
	if !any {
		return nil, ErrEmptyMask
	}

	at := func(i, j, k int) bool {
		if i < 0 || i >= nx || j < 0 || j >= ny || k < 0 || k >= nz {
			return false // padding: outside the grid is background
		}
		return inside[(k*ny+j)*nx+i]
	}

	s := &Surface{Opacity: 1}
	weld := make(map[[3]int32]int32)

	// vertexAt welds on the lattice position of the inside corner the
	// iso-crossing collapses to, then emits world coordinates.
	vertexAt := func(i, j, k int) int32 {
		key := [3]int32{int32(i), int32(j), int32(k)}
		if idx, ok := weld[key]; ok {
			return idx
		}
		p := mask.VoxelToWorld(i, j, k)
		idx := int32(s.VertexCount())
		s.Vertices = append(s.Vertices, float32(p[0]), float32(p[1]), float32(p[2]))
		weld[key] = idx
		return idx
	}

	var edgeVerts [12]int32
	for k := -1; k < nz; k++ {
		for j := -1; j < ny; j++ {
			for i := -1; i < nx; i++ {
				cube := 0
				for c := 0; c < 8; c++ {
					o := cornerOffset[c]
					if at(i+o[0], j+o[1], k+o[2]) {
						cube |= 1 << c
					}
				}
				if edgeTable[cube] == 0 {
					continue
				}

				for e := 0; e < 12; e++ {
					if edgeTable[cube]&(1<<e) == 0 {
						continue
					}
					// The crossing sits on whichever edge endpoint is
					// inside the selection.
					a, b := edgeCorners[e][0], edgeCorners[e][1]
					c := a
					if cube&(1<<a) == 0 {
						c = b
					}
					o := cornerOffset[c]
					edgeVerts[e] = vertexAt(i+o[0], j+o[1], k+o[2])
				}

				tri := &triTable[cube]
				for t := 0; tri[t] != -1; t += 3 {
					v0 := edgeVerts[tri[t]]
					v1 := edgeVerts[tri[t+1]]
					v2 := edgeVerts[tri[t+2]]
					if v0 == v1 || v1 == v2 || v2 == v0 {
						continue // collapsed under welding
					}
					s.Faces = append(s.Faces, v0, v1, v2)
				}
			}
		}
	}

	if s.VertexCount() == 0 || s.FaceCount() == 0 {
		return nil, ErrDegenerateMesh
	}
	return s, nil
}
