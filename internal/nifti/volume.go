package nifti

import (
	"fmt"
	"math"
	"sort"
)

// DataType is the NIfTI-1 datatype code.
type DataType int16

const (
	Uint8   DataType = 2
	Int16   DataType = 4
	Int32   DataType = 8
	Float32 DataType = 16
	Float64 DataType = 64
	Int8    DataType = 256
	Uint16  DataType = 512
	Uint32  DataType = 768
)

// BitsPerVoxel returns the storage size of the type, or 0 for unsupported codes.
func (d DataType) BitsPerVoxel() int {
	switch d {
	case Uint8, Int8:
		return 8
	case Int16, Uint16:
		return 16
	case Int32, Uint32, Float32:
		return 32
	case Float64:
		return 64
	default:
		return 0
	}
}

func (d DataType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("datatype(%d)", int16(d))
	}
}

// ParseDataType maps a numpy-style name to its code.
func ParseDataType(name string) (DataType, error) {
	for _, d := range []DataType{Uint8, Int8, Int16, Uint16, Int32, Uint32, Float32, Float64} {
		if d.String() == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unsupported dtype %q", name)
}

// Volume is an in-memory 3D (or higher) image.
type Volume struct {
	Dims     []int
	PixDim   []float64
	DataType DataType
	// Affine maps voxel indices to world coordinates (rows x, y, z).
	Affine [3][4]float64
	Data   []float64
}

// New allocates a zero volume with unit voxels and an identity affine.
func New(dims []int, dtype DataType) (*Volume, error) {
	if len(dims) == 0 || len(dims) > 7 {
		return nil, fmt.Errorf("unsupported number of dimensions %d", len(dims))
	}
	n := 1
	for _, d := range dims {
		if d < 1 {
			return nil, fmt.Errorf("invalid dimension %v", dims)
		}
		n *= d
	}
	if dtype.BitsPerVoxel() == 0 {
		return nil, fmt.Errorf("unsupported datatype %d", dtype)
	}
	v := &Volume{
		Dims:     append([]int(nil), dims...),
		PixDim:   make([]float64, len(dims)),
		DataType: dtype,
		Data:     make([]float64, n),
	}
	for i := range v.PixDim {
		v.PixDim[i] = 1
	}
	v.Affine = [3][4]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	return v, nil
}

// Stub returns the placeholder 8x8x8 int8 volume used by stub runs.
func Stub() *Volume {
	v, _ := New([]int{8, 8, 8}, Int8)
	return v
}

// Len returns the number of voxels.
func (v *Volume) Len() int { return len(v.Data) }

// Shape3 returns the first three dimensions, padding with 1.
func (v *Volume) Shape3() [3]int {
	s := [3]int{1, 1, 1}
	for i := 0; i < 3 && i < len(v.Dims); i++ {
		s[i] = v.Dims[i]
	}
	return s
}

// SameShape reports whether both volumes have identical dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	if len(v.Dims) != len(o.Dims) {
		return false
	}
	for i := range v.Dims {
		if v.Dims[i] != o.Dims[i] {
			return false
		}
	}
	return true
}

// Index returns the flat offset of voxel (x, y, z) in the first 3D frame.
func (v *Volume) Index(x, y, z int) int {
	s := v.Shape3()
	return x + s[0]*(y+s[1]*z)
}

// At returns the voxel value at (x, y, z).
func (v *Volume) At(x, y, z int) float64 { return v.Data[v.Index(x, y, z)] }

// Set assigns the voxel value at (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) { v.Data[v.Index(x, y, z)] = value }

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	c := *v
	c.Dims = append([]int(nil), v.Dims...)
	c.PixDim = append([]float64(nil), v.PixDim...)
	c.Data = append([]float64(nil), v.Data...)
	return &c
}

// like returns an empty 3D volume sharing header geometry with v.
func (v *Volume) like(dims [3]int, dtype DataType) *Volume {
	out, _ := New(dims[:], dtype)
	for i := 0; i < 3 && i < len(v.PixDim); i++ {
		out.PixDim[i] = v.PixDim[i]
	}
	out.Affine = v.Affine
	return out
}

// Interpolation selects how resampling estimates voxel values.
type Interpolation string

const (
	Nearest    Interpolation = "nearest"
	Linear     Interpolation = "linear"
	Continuous Interpolation = "continuous"
)

// Resample scales the first three dimensions to shape. Output voxel i samples
// input coordinate i*in/out and the affine columns are scaled to match.
func (v *Volume) Resample(shape [3]int, interp Interpolation) (*Volume, error) {
	for _, d := range shape {
		if d < 1 {
			return nil, fmt.Errorf("invalid target shape %v", shape)
		}
	}
	in := v.Shape3()
	out := v.like(shape, v.DataType)
	var scale [3]float64
	for i := 0; i < 3; i++ {
		scale[i] = float64(in[i]) / float64(shape[i])
		for r := 0; r < 3; r++ {
			out.Affine[r][i] = v.Affine[r][i] * scale[i]
		}
		out.PixDim[i] = v.pixdim(i) * scale[i]
	}
	for z := 0; z < shape[2]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[0]; x++ {
				fx, fy, fz := float64(x)*scale[0], float64(y)*scale[1], float64(z)*scale[2]
				var value float64
				switch interp {
				case Nearest:
					value = v.At(clampIndex(int(math.Round(fx)), in[0]), clampIndex(int(math.Round(fy)), in[1]), clampIndex(int(math.Round(fz)), in[2]))
				case Linear, Continuous, "":
					value = v.trilinear(fx, fy, fz)
				default:
					return nil, fmt.Errorf("unsupported interpolation %q", interp)
				}
				out.Set(x, y, z, value)
			}
		}
	}
	return out, nil
}

func (v *Volume) pixdim(i int) float64 {
	if i < len(v.PixDim) && v.PixDim[i] > 0 {
		return v.PixDim[i]
	}
	return 1
}

func (v *Volume) trilinear(fx, fy, fz float64) float64 {
	s := v.Shape3()
	x0, y0, z0 := int(math.Floor(fx)), int(math.Floor(fy)), int(math.Floor(fz))
	dx, dy, dz := fx-float64(x0), fy-float64(y0), fz-float64(z0)
	var sum float64
	for _, cz := range [2]int{0, 1} {
		wz := 1 - dz
		if cz == 1 {
			wz = dz
		}
		if wz == 0 {
			continue
		}
		for _, cy := range [2]int{0, 1} {
			wy := 1 - dy
			if cy == 1 {
				wy = dy
			}
			if wy == 0 {
				continue
			}
			for _, cx := range [2]int{0, 1} {
				wx := 1 - dx
				if cx == 1 {
					wx = dx
				}
				if wx == 0 {
					continue
				}
				sum += wx * wy * wz * v.At(clampIndex(x0+cx, s[0]), clampIndex(y0+cy, s[1]), clampIndex(z0+cz, s[2]))
			}
		}
	}
	return sum
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Slice keeps a one-voxel-thick slab at offset along axis. The offset is
// clamped to the axis length.
func (v *Volume) Slice(axis, offset int) (*Volume, error) {
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("slice axis %d out of range", axis)
	}
	s := v.Shape3()
	offset = clampIndex(offset, s[axis])
	box := Box{Max: s}
	box.Min[axis] = offset
	box.Max[axis] = offset + 1
	return v.Crop(box)
}

// Concat joins volumes along axis. All inputs must match on the other axes.
func Concat(vols []*Volume, axis int) (*Volume, error) {
	if len(vols) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("concat axis %d out of range", axis)
	}
	first := vols[0].Shape3()
	shape := first
	shape[axis] = 0
	for _, vol := range vols {
		s := vol.Shape3()
		for i := 0; i < 3; i++ {
			if i != axis && s[i] != first[i] {
				return nil, fmt.Errorf("shape mismatch %v vs %v", s, first)
			}
		}
		shape[axis] += s[axis]
	}
	out := vols[0].like(shape, vols[0].DataType)
	start := 0
	for _, vol := range vols {
		s := vol.Shape3()
		for z := 0; z < s[2]; z++ {
			for y := 0; y < s[1]; y++ {
				for x := 0; x < s[0]; x++ {
					pos := [3]int{x, y, z}
					pos[axis] += start
					out.Set(pos[0], pos[1], pos[2], vol.At(x, y, z))
				}
			}
		}
		start += s[axis]
	}
	return out, nil
}

// Box is a half-open voxel range [Min, Max) on the first three axes.
type Box struct {
	Min [3]int
	Max [3]int
}

// Size returns the number of voxels inside the box.
func (b Box) Size() int {
	n := 1
	for i := 0; i < 3; i++ {
		n *= b.Max[i] - b.Min[i]
	}
	return n
}

// Crop copies the voxels inside box. The affine offset moves to the new origin.
func (v *Volume) Crop(box Box) (*Volume, error) {
	s := v.Shape3()
	var shape [3]int
	for i := 0; i < 3; i++ {
		if box.Min[i] < 0 || box.Max[i] > s[i] || box.Min[i] >= box.Max[i] {
			return nil, fmt.Errorf("crop box %v outside shape %v", box, s)
		}
		shape[i] = box.Max[i] - box.Min[i]
	}
	out := v.like(shape, v.DataType)
	for r := 0; r < 3; r++ {
		out.Affine[r][3] = v.Affine[r][3] +
			v.Affine[r][0]*float64(box.Min[0]) +
			v.Affine[r][1]*float64(box.Min[1]) +
			v.Affine[r][2]*float64(box.Min[2])
	}
	for z := 0; z < shape[2]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[0]; x++ {
				out.Set(x, y, z, v.At(x+box.Min[0], y+box.Min[1], z+box.Min[2]))
			}
		}
	}
	return out, nil
}

// NonZeroBox returns the bounding box of non-zero voxels grown by pad voxels
// on every side. ok is false for an all-zero volume.
func (v *Volume) NonZeroBox(pad int) (Box, bool) {
	s := v.Shape3()
	box := Box{Min: s}
	found := false
	for z := 0; z < s[2]; z++ {
		for y := 0; y < s[1]; y++ {
			for x := 0; x < s[0]; x++ {
				if v.At(x, y, z) == 0 {
					continue
				}
				found = true
				pos := [3]int{x, y, z}
				for i := 0; i < 3; i++ {
					if pos[i] < box.Min[i] {
						box.Min[i] = pos[i]
					}
					if pos[i]+1 > box.Max[i] {
						box.Max[i] = pos[i] + 1
					}
				}
			}
		}
	}
	if !found {
		return Box{Max: s}, false
	}
	for i := 0; i < 3; i++ {
		box.Min[i] = max(0, box.Min[i]-pad)
		box.Max[i] = min(s[i], box.Max[i]+pad)
	}
	return box, true
}

// DistinctValues returns the sorted set of voxel values.
func (v *Volume) DistinctValues() []float64 {
	seen := make(map[float64]struct{})
	for _, value := range v.Data {
		seen[value] = struct{}{}
	}
	out := make([]float64, 0, len(seen))
	for value := range seen {
		out = append(out, value)
	}
	sort.Float64s(out)
	return out
}

// Mask returns a copy of v keeping voxels where mask equals value and zeroing
// the rest. Both volumes must share their first three dimensions.
func (v *Volume) Mask(mask *Volume, value float64) (*Volume, error) {
	if v.Shape3() != mask.Shape3() {
		return nil, fmt.Errorf("mask shape %v does not match image shape %v", mask.Shape3(), v.Shape3())
	}
	out := v.like(v.Shape3(), v.DataType)
	n := out.Len()
	for i := 0; i < n; i++ {
		if mask.Data[i] == value {
			out.Data[i] = v.Data[i]
		}
	}
	return out, nil
}

// ConvertTo changes the output data type. Converting to uint8 rescales values
// into 0..255 first: by the maximum when all values are non-negative, else by
// the min-max range.
func (v *Volume) ConvertTo(dtype DataType) (*Volume, error) {
	if dtype.BitsPerVoxel() == 0 {
		return nil, fmt.Errorf("unsupported datatype %d", dtype)
	}
	out := v.Clone()
	out.DataType = dtype
	if dtype != Uint8 || v.DataType == Uint8 {
		return out, nil
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, value := range out.Data {
		lo = math.Min(lo, value)
		hi = math.Max(hi, value)
	}
	for i, value := range out.Data {
		switch {
		case lo >= 0 && hi != 0:
			value /= hi
		case lo < 0 && hi != lo:
			value = (value - lo) / (hi - lo)
		}
		out.Data[i] = math.Trunc(value * 255)
	}
	return out, nil
}
