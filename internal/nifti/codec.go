package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"voxelpipe/internal/fileutil"
)

const (
	headerSize = 348
	voxOffset  = 352
)

// ErrNotNIfTI is returned for data without a single-file NIfTI-1 header.
var ErrNotNIfTI = errors.New("not a NIfTI-1 file")

// Decode parses a single-file NIfTI-1 volume from uncompressed bytes.
func Decode(data []byte) (*Volume, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrNotNIfTI, len(data))
	}
	var order binary.ByteOrder = binary.LittleEndian
	if int32(order.Uint32(data[0:4])) != headerSize {
		order = binary.BigEndian
		if int32(order.Uint32(data[0:4])) != headerSize {
			return nil, fmt.Errorf("%w: bad sizeof_hdr", ErrNotNIfTI)
		}
	}
	if magic := string(data[344:347]); magic != "n+1" {
		return nil, fmt.Errorf("%w: magic %q", ErrNotNIfTI, magic)
	}

	i16 := func(off int) int16 { return int16(order.Uint16(data[off : off+2])) }
	f32 := func(off int) float64 { return float64(math.Float32frombits(order.Uint32(data[off : off+4]))) }

	ndim := int(i16(40))
	if ndim < 1 || ndim > 7 {
		return nil, fmt.Errorf("%w: dim[0]=%d", ErrNotNIfTI, ndim)
	}
	dims := make([]int, ndim)
	pixdim := make([]float64, ndim)
	for i := 0; i < ndim; i++ {
		dims[i] = int(i16(42 + 2*i))
		pixdim[i] = f32(80 + 4*i)
	}
	dtype := DataType(i16(70))
	vol, err := New(dims, dtype)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotNIfTI, err)
	}
	copy(vol.PixDim, pixdim)

	offset := int(f32(108))
	if offset < headerSize {
		offset = voxOffset
	}
	width := dtype.BitsPerVoxel() / 8
	if need := offset + vol.Len()*width; len(data) < need {
		return nil, fmt.Errorf("%w: truncated data (%d of %d bytes)", ErrNotNIfTI, len(data), need)
	}

	slope, inter := f32(112), f32(116)
	scaled := slope != 0 && !(slope == 1 && inter == 0)
	raw := data[offset:]
	for i := range vol.Data {
		b := raw[i*width : (i+1)*width]
		var value float64
		switch dtype {
		case Uint8:
			value = float64(b[0])
		case Int8:
			value = float64(int8(b[0]))
		case Int16:
			value = float64(int16(order.Uint16(b)))
		case Uint16:
			value = float64(order.Uint16(b))
		case Int32:
			value = float64(int32(order.Uint32(b)))
		case Uint32:
			value = float64(order.Uint32(b))
		case Float32:
			value = float64(math.Float32frombits(order.Uint32(b)))
		case Float64:
			value = math.Float64frombits(order.Uint64(b))
		}
		if scaled {
			value = value*slope + inter
		}
		vol.Data[i] = value
	}

	qform, sform := i16(252), i16(254)
	switch {
	case sform > 0:
		for r := 0; r < 3; r++ {
			for c := 0; c < 4; c++ {
				vol.Affine[r][c] = f32(280 + 16*r + 4*c)
			}
		}
	case qform > 0:
		qfac := f32(76)
		if qfac == 0 {
			qfac = 1
		}
		vol.Affine = quaternAffine(f32(256), f32(260), f32(264), [3]float64{f32(268), f32(272), f32(276)}, [3]float64{vol.pixdim(0), vol.pixdim(1), vol.pixdim(2) * qfac})
	default:
		vol.Affine = [3][4]float64{{vol.pixdim(0), 0, 0, 0}, {0, vol.pixdim(1), 0, 0}, {0, 0, vol.pixdim(2), 0}}
	}
	return vol, nil
}

func quaternAffine(b, c, d float64, offset, scale [3]float64) [3][4]float64 {
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		n := math.Sqrt(b*b + c*c + d*d)
		b, c, d = b/n, c/n, d/n
		a = 0
	} else {
		a = math.Sqrt(a)
	}
	r := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2*b*c - 2*a*d, 2*b*d + 2*a*c},
		{2*b*c + 2*a*d, a*a + c*c - b*b - d*d, 2*c*d - 2*a*b},
		{2*b*d - 2*a*c, 2*c*d + 2*a*b, a*a + d*d - b*b - c*c},
	}
	var out [3][4]float64
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out[row][col] = r[row][col] * scale[col]
		}
		out[row][3] = offset[row]
	}
	return out
}

// Encode writes v as little-endian single-file NIfTI-1 with an sform affine.
func Encode(w io.Writer, v *Volume) error {
	width := v.DataType.BitsPerVoxel() / 8
	if width == 0 {
		return fmt.Errorf("unsupported datatype %d", v.DataType)
	}
	buf := make([]byte, voxOffset+v.Len()*width)
	le := binary.LittleEndian
	putI16 := func(off int, value int16) { le.PutUint16(buf[off:], uint16(value)) }
	putF32 := func(off int, value float64) { le.PutUint32(buf[off:], math.Float32bits(float32(value))) }

	le.PutUint32(buf[0:], headerSize)
	buf[38] = 'r'
	putI16(40, int16(len(v.Dims)))
	for i := 1; i < 8; i++ {
		putI16(40+2*i, 1)
	}
	for i, d := range v.Dims {
		putI16(42+2*i, int16(d))
	}
	putI16(70, int16(v.DataType))
	putI16(72, int16(v.DataType.BitsPerVoxel()))
	putF32(76, 1)
	for i := range v.Dims {
		putF32(80+4*i, v.pixdim(i))
	}
	putF32(108, voxOffset)
	putF32(112, 1)
	putF32(116, 0)
	buf[123] = 2 // mm
	putI16(254, 1)
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			putF32(280+16*r+4*c, v.Affine[r][c])
		}
	}
	copy(buf[344:], "n+1\x00")

	data := buf[voxOffset:]
	for i, value := range v.Data {
		b := data[i*width:]
		switch v.DataType {
		case Uint8:
			b[0] = uint8(clampRound(value, 0, math.MaxUint8))
		case Int8:
			b[0] = byte(int8(clampRound(value, math.MinInt8, math.MaxInt8)))
		case Int16:
			le.PutUint16(b, uint16(int16(clampRound(value, math.MinInt16, math.MaxInt16))))
		case Uint16:
			le.PutUint16(b, uint16(clampRound(value, 0, math.MaxUint16)))
		case Int32:
			le.PutUint32(b, uint32(int32(clampRound(value, math.MinInt32, math.MaxInt32))))
		case Uint32:
			le.PutUint32(b, uint32(clampRound(value, 0, math.MaxUint32)))
		case Float32:
			le.PutUint32(b, math.Float32bits(float32(value)))
		case Float64:
			le.PutUint64(b, math.Float64bits(value))
		}
	}
	_, err := w.Write(buf)
	return err
}

func clampRound(value, lo, hi float64) float64 {
	if math.IsNaN(value) {
		return 0
	}
	return math.Max(lo, math.Min(hi, math.Round(value)))
}

// EncodeFile renders v for filename, gzip-compressing for ".gz" names.
func EncodeFile(w io.Writer, filename string, v *Volume) error {
	switch fileutil.CompressionExt(filename) {
	case ".gz":
		zw := gzip.NewWriter(w)
		if err := Encode(zw, v); err != nil {
			return err
		}
		return zw.Close()
	case "":
		return Encode(w, v)
	default:
		return fmt.Errorf("cannot write compressed volume %q", filename)
	}
}

// DecodeFile decodes possibly compressed bytes named filename.
func DecodeFile(filename string, data []byte) (*Volume, error) {
	r, err := fileutil.Decompress(filename, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", filename, err)
	}
	return Decode(raw)
}

// Load reads a .nii, .nii.gz or .nii.bz2 file.
func Load(path string) (*Volume, error) {
	data, err := fileutil.ReadMaybeCompressed(path)
	if err != nil {
		return nil, err
	}
	vol, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vol, nil
}

// Save writes v atomically to path.
func Save(path string, v *Volume) error {
	return fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return EncodeFile(w, path, v)
	})
}

// IsImageFilename reports whether name carries a supported volume extension.
func IsImageFilename(name string) bool {
	lower := strings.ToLower(name)
	lower = strings.TrimSuffix(lower, fileutil.CompressionExt(lower))
	return strings.HasSuffix(lower, ".nii")
}
