package volio

import (
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/dicomtag"
	"github.com/suyashkumar/dicom/element"

	"hpbviz/pkg/volume"
)

// SeriesInfo summarizes one DICOM series found in a directory.
type SeriesInfo struct {
	UID         string
	Description string
	Modality    string
	NumSlices   int
}

func (s SeriesInfo) String() string {
	desc := s.Description
	if desc == "" {
		desc = "(no description)"
	}
	return fmt.Sprintf("%s  %s  %s  %d slices", s.UID, s.Modality, desc, s.NumSlices)
}

// dicomSlice is the per-file subset of tags the series assembler needs.
type dicomSlice struct {
	path        string
	seriesUID   string
	description string
	modality    string
	position    [3]float64
	rowDir      [3]float64
	colDir      [3]float64
	spacing     [2]float64 // row spacing, column spacing
	thickness   float64
	rows, cols  int
	slope       float64
	intercept   float64
	signed      bool
	pixels      []int
}

// parseDicomFile walks a file's elements and collects geometry, rescale
// and (optionally) pixel data. The dicom library can panic on malformed
// input, so panics are converted to errors.
func parseDicomFile(path string, withPixels bool) (slice *dicomSlice, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			slice, err = nil, fmt.Errorf("parsing %s: %v", path, panicErr)
		}
	}()

	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := dicom.NewParserFromBytes(raw, nil)
	if err != nil {
		return nil, err
	}
	parsed, err := p.Parse(dicom.ParseOptions{DropPixelData: !withPixels})
	if parsed == nil || err != nil {
		return nil, fmt.Errorf("parsing %s: %v", path, err)
	}

	s := &dicomSlice{path: path, slope: 1}
	for _, elem := range parsed.Elements {
		switch {
		case elem.Tag == dicomtag.SeriesInstanceUID:
			s.seriesUID = elemString(elem)
		case elem.Tag == dicomtag.SeriesDescription:
			s.description = elemString(elem)
		case elem.Tag == dicomtag.Modality:
			s.modality = elemString(elem)
		case elem.Tag == dicomtag.Rows:
			s.rows = int(elem.Value[0].(uint16))
		case elem.Tag == dicomtag.Columns:
			s.cols = int(elem.Value[0].(uint16))
		case elem.Tag == dicomtag.PixelRepresentation:
			s.signed = elem.Value[0].(uint16) == 1
		case elem.Tag == dicomtag.ImagePositionPatient:
			vals := elemFloats(elem)
			if len(vals) == 3 {
				copy(s.position[:], vals)
			}
		case elem.Tag == dicomtag.ImageOrientationPatient:
			vals := elemFloats(elem)
			if len(vals) == 6 {
				copy(s.rowDir[:], vals[:3])
				copy(s.colDir[:], vals[3:])
			}
		case elem.Tag == dicomtag.PixelSpacing:
			vals := elemFloats(elem)
			if len(vals) == 2 {
				copy(s.spacing[:], vals)
			}
		case elem.Tag == dicomtag.SliceThickness:
			if vals := elemFloats(elem); len(vals) == 1 {
				s.thickness = vals[0]
			}
		case elem.Tag == dicomtag.RescaleSlope:
			if vals := elemFloats(elem); len(vals) == 1 {
				s.slope = vals[0]
			}
		case elem.Tag == dicomtag.RescaleIntercept:
			if vals := elemFloats(elem); len(vals) == 1 {
				s.intercept = vals[0]
			}
		case withPixels && elem.Tag == dicomtag.PixelData:
			data, ok := elem.Value[0].(element.PixelDataInfo)
			if !ok {
				return nil, fmt.Errorf("%s: unexpected pixel data layout", path)
			}
			for _, frame := range data.Frames {
				if frame.IsEncapsulated() {
					return nil, fmt.Errorf("%s: encapsulated frames are not supported", path)
				}
				for j := 0; j < len(frame.NativeData.Data); j++ {
					s.pixels = append(s.pixels, frame.NativeData.Data[j][0])
				}
			}
		}
	}
	if s.seriesUID == "" {
		return nil, fmt.Errorf("%s: no SeriesInstanceUID", path)
	}
	return s, nil
}

// elemString returns the first value of an element as a trimmed string.
func elemString(e *element.Element) string {
	if len(e.Value) == 0 {
		return ""
	}
	if str, ok := e.Value[0].(string); ok {
		return strings.TrimSpace(str)
	}
	return ""
}

// elemFloats converts an element's decimal-string or numeric values to
// float64, skipping anything unparseable.
func elemFloats(e *element.Element) []float64 {
	out := make([]float64, 0, len(e.Value))
	for _, raw := range e.Value {
		switch v := raw.(type) {
		case string:
			// DS values sometimes arrive backslash-joined.
			for _, part := range strings.Split(strings.TrimSpace(v), "\\") {
				if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
					out = append(out, f)
				}
			}
		case float64:
			out = append(out, v)
		case float32:
			out = append(out, float64(v))
		case int:
			out = append(out, float64(v))
		case uint16:
			out = append(out, float64(v))
		case int16:
			out = append(out, float64(v))
		}
	}
	return out
}

// listDicomFiles returns the regular files directly under dir.
func listDicomFiles(dir string) ([]string, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files in %s", dir)
	}
	return paths, nil
}

// ListSeries scans a directory and reports the DICOM series it
// contains, largest first. Files that fail to parse are skipped.
func ListSeries(dir string) ([]SeriesInfo, error) {
	paths, err := listDicomFiles(dir)
	if err != nil {
		return nil, err
	}
	bySeries := map[string]*SeriesInfo{}
	for _, path := range paths {
		s, err := parseDicomFile(path, false)
		if err != nil {
			continue
		}
		info := bySeries[s.seriesUID]
		if info == nil {
			info = &SeriesInfo{UID: s.seriesUID, Description: s.description, Modality: s.modality}
			bySeries[s.seriesUID] = info
		}
		info.NumSlices++
	}
	if len(bySeries) == 0 {
		return nil, fmt.Errorf("no readable DICOM files in %s", dir)
	}
	out := make([]SeriesInfo, 0, len(bySeries))
	for _, info := range bySeries {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NumSlices != out[j].NumSlices {
			return out[i].NumSlices > out[j].NumSlices
		}
		return out[i].UID < out[j].UID
	})
	return out, nil
}

// LoadSeries assembles a directory of DICOM slices into a volume in LPS
// space, applying the modality rescale. With an empty seriesUID the
// largest series in the directory is used.
func LoadSeries(dir, seriesUID string) (*volume.Volume, error) {
	paths, err := listDicomFiles(dir)
	if err != nil {
		return nil, err
	}

	var slices []*dicomSlice
	bySeries := map[string]int{}
	for _, path := range paths {
		s, err := parseDicomFile(path, true)
		if err != nil {
			continue
		}
		slices = append(slices, s)
		bySeries[s.seriesUID]++
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("no readable DICOM files in %s", dir)
	}

	if seriesUID == "" {
		best := 0
		for uid, n := range bySeries {
			if n > best || (n == best && uid < seriesUID) {
				seriesUID, best = uid, n
			}
		}
	}
	var series []*dicomSlice
	for _, s := range slices {
		if s.seriesUID == seriesUID {
			series = append(series, s)
		}
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("series %s not found in %s", seriesUID, dir)
	}

	return assembleSeries(series)
}

// assembleSeries sorts slices along the stack normal and stacks them
// into a single volume.
func assembleSeries(series []*dicomSlice) (*volume.Volume, error) {
	ref := series[0]
	if ref.rows == 0 || ref.cols == 0 {
		return nil, fmt.Errorf("%s: missing Rows/Columns", ref.path)
	}
	if ref.spacing[0] <= 0 || ref.spacing[1] <= 0 {
		return nil, fmt.Errorf("%s: missing PixelSpacing", ref.path)
	}
	normal := cross(ref.rowDir, ref.colDir)
	if vecNorm(normal) < 0.5 {
		return nil, fmt.Errorf("%s: missing ImageOrientationPatient", ref.path)
	}

	sort.Slice(series, func(i, j int) bool {
		return dot(series[i].position, normal) < dot(series[j].position, normal)
	})
	// The origin belongs to the lowest slice along the normal.
	ref = series[0]

	zSpacing := ref.thickness
	if len(series) > 1 {
		zSpacing = dot(series[1].position, normal) - dot(series[0].position, normal)
	} else if zSpacing <= 0 {
		// Lone slice with no thickness tag.
		zSpacing = 1
	}
	if zSpacing <= 0 {
		return nil, fmt.Errorf("series has non-positive slice spacing %g", zSpacing)
	}

	nx, ny, nz := ref.cols, ref.rows, len(series)
	var g volume.Geometry
	g.Size = [3]int{nx, ny, nz}
	// Column spacing is the in-row step (x axis), row spacing the
	// between-rows step (y axis).
	g.Spacing = [3]float64{ref.spacing[1], ref.spacing[0], zSpacing}
	g.Origin = ref.position
	for r := 0; r < 3; r++ {
		g.Direction[r][0] = ref.rowDir[r]
		g.Direction[r][1] = ref.colDir[r]
		g.Direction[r][2] = normal[r]
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	v := volume.NewVolume(g)
	for k, s := range series {
		if s.rows != ny || s.cols != nx {
			return nil, fmt.Errorf("%s: slice size %dx%d disagrees with series %dx%d", s.path, s.cols, s.rows, nx, ny)
		}
		if len(s.pixels) < nx*ny {
			return nil, fmt.Errorf("%s: %d pixels for a %dx%d slice", s.path, len(s.pixels), nx, ny)
		}
		for idx := 0; idx < nx*ny; idx++ {
			raw := s.pixels[idx]
			if s.signed && raw > math.MaxInt16 {
				raw -= 1 << 16
			}
			hu := s.slope*float64(raw) + s.intercept
			v.Data[k*nx*ny+idx] = float32(hu)
		}
	}
	return v, nil
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func vecNorm(a [3]float64) float64 {
	return math.Sqrt(dot(a, a))
}

// LoadDicomFile reads a single DICOM file as a one-slice volume.
func LoadDicomFile(path string) (*volume.Volume, error) {
	s, err := parseDicomFile(path, true)
	if err != nil {
		return nil, err
	}
	return assembleSeries([]*dicomSlice{s})
}

// IsDicomDir reports whether a path looks like a directory of DICOM
// slices rather than a NIfTI file.
func IsDicomDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
