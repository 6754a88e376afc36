package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// WriteOBJ writes the surface as Wavefront OBJ: "v x y z" vertex lines
// followed by "f i j k" face lines with 1-based indices.
func WriteOBJ(w io.Writer, s *Surface) error {
	if err := s.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for i := 0; i < s.VertexCount(); i++ {
		v := s.Vertex(i)
		if _, err := fmt.Fprintf(bw, "v %g %g %g\n", v[0], v[1], v[2]); err != nil {
			return err
		}
	}
	for i := 0; i < s.FaceCount(); i++ {
		if _, err := fmt.Fprintf(bw, "f %d %d %d\n", s.Faces[3*i]+1, s.Faces[3*i+1]+1, s.Faces[3*i+2]+1); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveOBJ writes the surface to an OBJ file.
func SaveOBJ(path string, s *Surface) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create OBJ file: %w", err)
	}
	defer f.Close()
	return WriteOBJ(f, s)
}

// SaveSTL writes the surface as binary STL: an 80-byte header, a uint32
// triangle count, then 50 bytes per triangle (normal, three vertices, an
// unused attribute word), all little-endian.
func SaveSTL(path string, s *Surface) error {
	if err := s.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	var header [80]byte
	copy(header[:], "hpbviz surface export")
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(s.FaceCount())); err != nil {
		return err
	}

	for i := 0; i < s.FaceCount(); i++ {
		a := s.Vertex(int(s.Faces[3*i]))
		b := s.Vertex(int(s.Faces[3*i+1]))
		c := s.Vertex(int(s.Faces[3*i+2]))
		n := faceNormal(a, b, c)
		for _, v := range [][3]float32{n, a, b, c} {
			if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
				return err
			}
		}
		if err := binary.Write(bw, binary.LittleEndian, uint16(0)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func faceNormal(a, b, c [3]float32) [3]float32 {
	u := [3]float32{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
	v := [3]float32{c[0] - a[0], c[1] - a[1], c[2] - a[2]}
	n := [3]float32{
		u[1]*v[2] - u[2]*v[1],
		u[2]*v[0] - u[0]*v[2],
		u[0]*v[1] - u[1]*v[0],
	}
	mag := float32(math.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])))
	if mag > 0 {
		n[0] /= mag
		n[1] /= mag
		n[2] /= mag
	}
	return n
}
