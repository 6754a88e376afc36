// Package volio loads and saves volumetric medical images. NIfTI is the
// primary interchange format for masks and resampled volumes; DICOM
// series are the raw scanner output.
package volio

import (
	"fmt"
	"math"

	"github.com/henghuang/nifti"

	"hpbviz/pkg/volume"
)

// safelyLoadImage consumes panics emitted by the nifti library, which
// are inappropriate and must be captured in order to turn them into
// recoverable errors.
func safelyLoadImage(filename string, rdata bool) (parsed nifti.Nifti1Image, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("parsing %s: %v", filename, panicErr)
		}
	}()

	parsed.LoadImage(filename, rdata)

	return
}

// safelyLoadHeader consumes panics emitted by the nifti library, same
// as safelyLoadImage.
func safelyLoadHeader(filename string) (parsed nifti.Nifti1Header, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("parsing %s header: %v", filename, panicErr)
		}
	}()

	parsed.LoadHeader(filename)

	return
}

// geometryFromHeader derives grid geometry from a NIfTI-1 header. NIfTI
// affines are RAS; the first two axes are negated to express the result
// in LPS, matching DICOM patient space.
func geometryFromHeader(hdr nifti.Nifti1Header) (volume.Geometry, error) {
	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if nx < 1 || ny < 1 || nz < 1 {
		return volume.Geometry{}, fmt.Errorf("nifti header has degenerate dims %dx%dx%d", nx, ny, nz)
	}

	var affine [3][4]float64
	switch {
	case hdr.SformCode > 0:
		for c := 0; c < 4; c++ {
			affine[0][c] = float64(hdr.SrowX[c])
			affine[1][c] = float64(hdr.SrowY[c])
			affine[2][c] = float64(hdr.SrowZ[c])
		}
	case hdr.QformCode > 0:
		affine = qformAffine(hdr)
	default:
		// No orientation recorded. Treat the grid as axis-aligned with
		// pixdim spacing, which is what segmentation masks written
		// without an affine effectively are.
		g := volume.NewGeometry(nx, ny, nz,
			float64(hdr.Pixdim[1]), float64(hdr.Pixdim[2]), float64(hdr.Pixdim[3]))
		if err := g.Validate(); err != nil {
			return volume.Geometry{}, err
		}
		return g, nil
	}

	// RAS -> LPS: negate the x and y rows.
	for c := 0; c < 4; c++ {
		affine[0][c] = -affine[0][c]
		affine[1][c] = -affine[1][c]
	}

	var g volume.Geometry
	g.Size = [3]int{nx, ny, nz}
	for c := 0; c < 3; c++ {
		norm := math.Sqrt(affine[0][c]*affine[0][c] + affine[1][c]*affine[1][c] + affine[2][c]*affine[2][c])
		if norm == 0 {
			return volume.Geometry{}, fmt.Errorf("nifti affine has zero-length axis %d", c)
		}
		g.Spacing[c] = norm
		for r := 0; r < 3; r++ {
			g.Direction[r][c] = affine[r][c] / norm
		}
	}
	g.Origin = [3]float64{affine[0][3], affine[1][3], affine[2][3]}
	if err := g.Validate(); err != nil {
		return volume.Geometry{}, err
	}
	return g, nil
}

// qformAffine reconstructs the rotation from the header quaternion, per
// the NIfTI-1 standard (method 2).
func qformAffine(hdr nifti.Nifti1Header) [3][4]float64 {
	b := float64(hdr.QuaternB)
	c := float64(hdr.QuaternC)
	d := float64(hdr.QuaternD)
	a := 1.0 - b*b - c*c - d*d
	if a < 0 {
		a = 0
	}
	a = math.Sqrt(a)

	qfac := float64(hdr.Pixdim[0])
	if qfac == 0 {
		qfac = 1
	}
	sx, sy := float64(hdr.Pixdim[1]), float64(hdr.Pixdim[2])
	sz := float64(hdr.Pixdim[3]) * qfac

	rot := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - b*b - c*c},
	}

	var aff [3][4]float64
	for r := 0; r < 3; r++ {
		aff[r][0] = rot[r][0] * sx
		aff[r][1] = rot[r][1] * sy
		aff[r][2] = rot[r][2] * sz
	}
	aff[0][3] = float64(hdr.QoffsetX)
	aff[1][3] = float64(hdr.QoffsetY)
	aff[2][3] = float64(hdr.QoffsetZ)
	return aff
}

// LoadVolume reads a .nii or .nii.gz scalar volume. Geometry is
// expressed in LPS; no reorientation of the voxel grid happens here.
func LoadVolume(path string) (*volume.Volume, error) {
	hdr, err := safelyLoadHeader(path)
	if err != nil {
		return nil, err
	}
	g, err := geometryFromHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	img, err := safelyLoadImage(path, true)
	if err != nil {
		return nil, err
	}
	dims := img.GetDims()
	if dims[0] != g.Size[0] || dims[1] != g.Size[1] || dims[2] != g.Size[2] {
		return nil, fmt.Errorf("%s: header dims %v disagree with image dims %v", path, g.Size, dims[:3])
	}

	v := volume.NewVolume(g)
	for k := 0; k < g.Size[2]; k++ {
		for j := 0; j < g.Size[1]; j++ {
			for i := 0; i < g.Size[0]; i++ {
				v.Set(i, j, k, float32(img.GetAt(i, j, k, 0)))
			}
		}
	}
	return v, nil
}

// LoadLabelMask reads a .nii or .nii.gz label image. Intensities are
// rounded to the nearest integer label; anything outside [0,255] is an
// error, since labels are small discrete codes.
func LoadLabelMask(path string) (*volume.LabelMask, error) {
	v, err := LoadVolume(path)
	if err != nil {
		return nil, err
	}
	m := volume.NewLabelMask(v.Geometry)
	for idx, val := range v.Data {
		label := math.Round(float64(val))
		if label < 0 || label > 255 {
			return nil, fmt.Errorf("%s: intensity %g is not a valid label", path, val)
		}
		m.Data[idx] = uint8(label)
	}
	return m, nil
}
