package volio

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"hpbviz/pkg/volume"
)

// NIfTI-1 datatype codes used by the writer.
const (
	niftiTypeUint8   = 2
	niftiTypeFloat32 = 16
)

// nifti1Header mirrors the 348-byte NIfTI-1 header layout. The reading
// side comes from the nifti library; writing needs a struct whose
// binary encoding we control exactly.
type nifti1Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

const (
	niftiHeaderSize = 348
	niftiVoxOffset  = 352 // header + 4 bytes of extension flags
	niftiUnitsMM    = 2   // NIFTI_UNITS_MM
)

// headerFor fills a single-file (.nii) header with an sform affine
// derived from the geometry. Internal geometry is LPS; NIfTI stores
// RAS, so the x and y rows are negated on the way out.
func headerFor(g volume.Geometry, datatype int16, bitpix int16) nifti1Header {
	var hdr nifti1Header
	hdr.SizeofHdr = niftiHeaderSize
	hdr.Dim = [8]int16{3, int16(g.Size[0]), int16(g.Size[1]), int16(g.Size[2]), 1, 1, 1, 1}
	hdr.Datatype = datatype
	hdr.Bitpix = bitpix
	hdr.Pixdim = [8]float32{1,
		float32(g.Spacing[0]), float32(g.Spacing[1]), float32(g.Spacing[2]),
		0, 0, 0, 0}
	hdr.VoxOffset = niftiVoxOffset
	hdr.SclSlope = 1
	hdr.XyztUnits = niftiUnitsMM
	hdr.SformCode = 1 // NIFTI_XFORM_SCANNER_ANAT
	copy(hdr.Descrip[:], "hpbviz")
	copy(hdr.Magic[:], "n+1\x00")

	sign := [3]float64{-1, -1, 1}
	rows := [3]*[4]float32{&hdr.SrowX, &hdr.SrowY, &hdr.SrowZ}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rows[r][c] = float32(sign[r] * g.Direction[r][c] * g.Spacing[c])
		}
		rows[r][3] = float32(sign[r] * g.Origin[r])
	}
	return hdr
}

// openNiftiWriter creates the output file, gzip-wrapped when the path
// ends in .gz.
func openNiftiWriter(path string) (io.Writer, func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	bw := bufio.NewWriter(f)
	if strings.HasSuffix(path, ".gz") {
		zw := gzip.NewWriter(bw)
		closeAll := func() error {
			if err := zw.Close(); err != nil {
				f.Close()
				return err
			}
			if err := bw.Flush(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}
		return zw, closeAll, nil
	}
	closeAll := func() error {
		if err := bw.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return bw, closeAll, nil
}

func writeNifti(path string, g volume.Geometry, datatype, bitpix int16, payload interface{}) error {
	if err := g.Validate(); err != nil {
		return err
	}
	w, closeAll, err := openNiftiWriter(path)
	if err != nil {
		return err
	}

	hdr := headerFor(g, datatype, bitpix)
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		closeAll()
		return fmt.Errorf("writing %s header: %w", path, err)
	}
	// Four zero bytes: no header extensions.
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		closeAll()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, payload); err != nil {
		closeAll()
		return fmt.Errorf("writing %s data: %w", path, err)
	}
	return closeAll()
}

// SaveVolume writes a scalar volume as float32 NIfTI-1. Paths ending in
// .gz are gzip-compressed.
func SaveVolume(path string, v *volume.Volume) error {
	return writeNifti(path, v.Geometry, niftiTypeFloat32, 32, v.Data)
}

// SaveLabelMask writes a label mask as uint8 NIfTI-1.
func SaveLabelMask(path string, m *volume.LabelMask) error {
	return writeNifti(path, m.Geometry, niftiTypeUint8, 8, m.Data)
}
