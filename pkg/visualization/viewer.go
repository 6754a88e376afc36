// Package visualization renders windowed 2D slices of a CT volume,
// optionally with segmentation overlays, for quick QA of a case without
// a 3D viewer.
package visualization

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"hpbviz/pkg/volume"
)

// Plane names the three orthogonal slice orientations.
type Plane string

const (
	Axial    Plane = "axial"    // xy, stepping along z
	Coronal  Plane = "coronal"  // xz, stepping along y
	Sagittal Plane = "sagittal" // yz, stepping along x
)

// Viewer renders grayscale slices of a volume using a HU window. An
// optional label mask on the same grid is drawn as a colored overlay.
type Viewer struct {
	vol  *volume.Volume
	mask *volume.LabelMask

	// windowCenter/windowWidth define the HU range mapped onto the
	// grayscale ramp; everything outside clamps to black or white.
	windowCenter float64
	windowWidth  float64
}

// NewViewer creates a slice renderer with the given HU window. A zero
// or negative width falls back to the abdominal soft-tissue window.
func NewViewer(vol *volume.Volume, center, width float64) *Viewer {
	if width <= 0 {
		center, width = 50, 400
	}
	return &Viewer{vol: vol, windowCenter: center, windowWidth: width}
}

// SetOverlay attaches a label mask drawn on top of the slices. The mask
// must share the volume's grid.
func (v *Viewer) SetOverlay(mask *volume.LabelMask) error {
	if !mask.Geometry.Same(v.vol.Geometry) {
		return fmt.Errorf("overlay grid %v does not match volume grid %v", mask.Size, v.vol.Size)
	}
	v.mask = mask
	return nil
}

// window maps an HU intensity onto [0, 65535].
func (v *Viewer) window(hu float64) uint16 {
	lo := v.windowCenter - v.windowWidth/2
	frac := (hu - lo) / v.windowWidth
	return uint16(math.Max(0, math.Min(65535, frac*65535)))
}

// overlayColor returns the fixed palette color for small label codes.
func overlayColor(label uint8) color.RGBA {
	switch label {
	case 1:
		return color.RGBA{R: 220, G: 40, B: 40, A: 255}
	case 2:
		return color.RGBA{R: 240, G: 220, B: 40, A: 255}
	case 3:
		return color.RGBA{R: 60, G: 100, B: 240, A: 255}
	default:
		return color.RGBA{R: 40, G: 220, B: 120, A: 255}
	}
}

// depth returns the number of slices along a plane's stepping axis.
func (v *Viewer) depth(plane Plane) (int, error) {
	switch plane {
	case Axial:
		return v.vol.Size[2], nil
	case Coronal:
		return v.vol.Size[1], nil
	case Sagittal:
		return v.vol.Size[0], nil
	default:
		return 0, fmt.Errorf("invalid plane %q (must be axial, coronal or sagittal)", plane)
	}
}

// ExtractSlice renders one windowed slice. position indexes along the
// plane's stepping axis.
func (v *Viewer) ExtractSlice(plane Plane, position int) (image.Image, error) {
	max, err := v.depth(plane)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= max {
		return nil, fmt.Errorf("%s position %d out of range [0, %d)", plane, position, max)
	}

	var w, h int
	var voxel func(a, b int) (int, int, int)
	switch plane {
	case Axial:
		w, h = v.vol.Size[0], v.vol.Size[1]
		voxel = func(a, b int) (int, int, int) { return a, b, position }
	case Coronal:
		w, h = v.vol.Size[0], v.vol.Size[2]
		voxel = func(a, b int) (int, int, int) { return a, position, b }
	case Sagittal:
		w, h = v.vol.Size[1], v.vol.Size[2]
		voxel = func(a, b int) (int, int, int) { return position, a, b }
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for b := 0; b < h; b++ {
		for a := 0; a < w; a++ {
			i, j, k := voxel(a, b)
			if v.mask != nil {
				if label := v.mask.At(i, j, k); label != 0 {
					img.Set(a, b, overlayColor(label))
					continue
				}
			}
			gray := color.Gray16{Y: v.window(float64(v.vol.At(i, j, k)))}
			img.Set(a, b, color.RGBA64Model.Convert(gray))
		}
	}
	return img, nil
}

// SaveSlice writes a rendered slice as a PNG.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := png.Encode(w, img); err != nil {
		return err
	}
	return w.Flush()
}

// SaveSliceSequence renders and saves every slice along a plane as
// slice_<plane>_<index>.png under outputDir.
func (v *Viewer) SaveSliceSequence(plane Plane, outputDir string) error {
	max, err := v.depth(plane)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < max; pos++ {
		img, err := v.ExtractSlice(plane, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%04d.png", plane, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}
	return nil
}
