// Package mesh converts label masks into triangle surfaces for 3D
// rendering: a marching-cubes extractor for single labels, a multi-label
// builder that attaches display metadata, and OBJ/STL exporters.
package mesh

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyMask reports a label selection with zero foreground voxels.
// This is an expected, recoverable condition: callers interpret it as
// "structure absent" and skip the surface.
var ErrEmptyMask = errors.New("mask selection is empty; nothing to mesh")

// ErrDegenerateMesh reports that extraction produced no usable geometry
// despite a non-empty selection, e.g. an isolated voxel whose surface
// collapses to a point. Also recoverable.
var ErrDegenerateMesh = errors.New("marching cubes produced a degenerate mesh")

// RGBA is a display color with components in [0,1].
type RGBA [4]float32

// Surface is an indexed triangle mesh in physical (world mm) coordinates
// plus the display metadata the viewer needs to instantiate a layer.
// Vertices and faces are flat arrays of xyz / index triples; float32 and
// int32 keep memory bounded for large volumes.
type Surface struct {
	Vertices []float32 // N*3, world mm
	Faces    []int32   // M*3, indices into Vertices

	Color       RGBA
	DisplayName string
	Opacity     float32
	LabelSource string
}

// VertexCount returns N.
func (s *Surface) VertexCount() int { return len(s.Vertices) / 3 }

// FaceCount returns M.
func (s *Surface) FaceCount() int { return len(s.Faces) / 3 }

// Vertex returns vertex i as xyz.
func (s *Surface) Vertex(i int) [3]float32 {
	return [3]float32{s.Vertices[3*i], s.Vertices[3*i+1], s.Vertices[3*i+2]}
}

// Bounds returns the axis-aligned bounding box of the vertices.
func (s *Surface) Bounds() (min, max [3]float32) {
	if s.VertexCount() == 0 {
		return
	}
	min = s.Vertex(0)
	max = min
	for i := 1; i < s.VertexCount(); i++ {
		v := s.Vertex(i)
		for a := 0; a < 3; a++ {
			if v[a] < min[a] {
				min[a] = v[a]
			}
			if v[a] > max[a] {
				max[a] = v[a]
			}
		}
	}
	return
}

// Validate checks the structural invariants: non-degenerate arrays and
// face indices within range.
func (s *Surface) Validate() error {
	if s.VertexCount() == 0 || s.FaceCount() == 0 {
		return ErrDegenerateMesh
	}
	n := int32(s.VertexCount())
	for _, idx := range s.Faces {
		if idx < 0 || idx >= n {
			return fmt.Errorf("face index %d out of range [0,%d)", idx, n)
		}
	}
	return nil
}

// SurfaceCollection maps structure keys ("liver", "hepatic_vessels", ...)
// to surfaces. Built fresh per case load; keys are unique per run.
type SurfaceCollection map[string]*Surface

// Keys returns the structure keys in unspecified order.
func (c SurfaceCollection) Keys() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	return out
}

// DisplayName turns a structure key into a human-readable name:
// underscores become spaces and each word is title-cased.
func DisplayName(key string) string {
	words := strings.Split(strings.ReplaceAll(key, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
