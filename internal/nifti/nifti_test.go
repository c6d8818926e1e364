package nifti_test

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"voxelpipe/internal/nifti"
)

func ramp(t *testing.T, dims []int, dtype nifti.DataType) *nifti.Volume {
	t.Helper()
	v, err := nifti.New(dims, dtype)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := range v.Data {
		v.Data[i] = float64(i % 100)
	}
	return v
}

func TestSaveLoadCompressed(t *testing.T) {
	v := ramp(t, []int{4, 3, 2}, nifti.Int16)
	v.PixDim = []float64{2, 2, 3}
	v.Affine = [3][4]float64{{2, 0, 0, -10}, {0, 2, 0, -20}, {0, 0, 3, 5}}

	path := filepath.Join(t.TempDir(), "sub", "brain.nii.gz")
	if err := nifti.Save(path, v); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := nifti.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got.Dims, v.Dims) || got.DataType != nifti.Int16 {
		t.Fatalf("header mismatch: dims=%v dtype=%v", got.Dims, got.DataType)
	}
	if got.Affine != v.Affine {
		t.Fatalf("affine mismatch: %v", got.Affine)
	}
	if !reflect.DeepEqual(got.Data, v.Data) {
		t.Fatalf("voxel data mismatch")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := nifti.Decode(bytes.Repeat([]byte{1}, 400))
	if !errors.Is(err, nifti.ErrNotNIfTI) {
		t.Fatalf("expected ErrNotNIfTI, got %v", err)
	}
}

func TestResampleHalvesShape(t *testing.T) {
	v := ramp(t, []int{8, 8, 8}, nifti.Float32)
	out, err := v.Resample([3]int{4, 4, 4}, nifti.Nearest)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if out.Shape3() != [3]int{4, 4, 4} {
		t.Fatalf("unexpected shape %v", out.Shape3())
	}
	if out.At(1, 1, 1) != v.At(2, 2, 2) {
		t.Fatalf("nearest sample mismatch: %v vs %v", out.At(1, 1, 1), v.At(2, 2, 2))
	}
	if out.Affine[0][0] != 2 {
		t.Fatalf("affine should scale by 2, got %v", out.Affine[0][0])
	}

	up, err := v.Resample([3]int{16, 8, 8}, nifti.Linear)
	if err != nil {
		t.Fatalf("Resample linear: %v", err)
	}
	want := (v.At(0, 0, 0) + v.At(1, 0, 0)) / 2
	if math.Abs(up.At(1, 0, 0)-want) > 1e-9 {
		t.Fatalf("linear midpoint = %v, want %v", up.At(1, 0, 0), want)
	}
}

func TestSliceClampsOffset(t *testing.T) {
	v := ramp(t, []int{4, 5, 6}, nifti.Int16)
	out, err := v.Slice(1, 99)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if out.Shape3() != [3]int{4, 1, 6} {
		t.Fatalf("unexpected shape %v", out.Shape3())
	}
	if out.At(2, 0, 3) != v.At(2, 4, 3) {
		t.Fatalf("slice should take the last plane")
	}
}

func TestConcatAlongAxis(t *testing.T) {
	a := ramp(t, []int{2, 2, 1}, nifti.Float32)
	b := ramp(t, []int{2, 2, 1}, nifti.Float32)
	out, err := nifti.Concat([]*nifti.Volume{a, b}, 2)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if out.Shape3() != [3]int{2, 2, 2} {
		t.Fatalf("unexpected shape %v", out.Shape3())
	}
	if _, err := nifti.Concat([]*nifti.Volume{a, ramp(t, []int{3, 2, 1}, nifti.Float32)}, 2); err == nil {
		t.Fatalf("expected shape mismatch error")
	}
}

func TestMaskCropAndConvert(t *testing.T) {
	atlas, _ := nifti.New([]int{6, 6, 6}, nifti.Uint8)
	atlas.Set(2, 2, 2, 1)
	atlas.Set(3, 2, 2, 1)
	atlas.Set(5, 5, 5, 2)

	if got := atlas.DistinctValues(); !reflect.DeepEqual(got, []float64{0, 1, 2}) {
		t.Fatalf("DistinctValues = %v", got)
	}

	region, _ := atlas.Mask(atlas, 1)
	box, ok := region.NonZeroBox(1)
	if !ok {
		t.Fatalf("expected non-empty box")
	}
	if box.Min != [3]int{1, 1, 1} || box.Max != [3]int{5, 4, 4} {
		t.Fatalf("unexpected box %+v", box)
	}
	cropped, err := region.Crop(box)
	if err != nil {
		t.Fatalf("Crop: %v", err)
	}
	if cropped.Len() != box.Size() || cropped.Affine[0][3] != 1 {
		t.Fatalf("crop geometry wrong: len=%d affine=%v", cropped.Len(), cropped.Affine)
	}

	img := ramp(t, []int{2, 1, 1}, nifti.Int16)
	img.Data = []float64{-5, 5}
	u8, err := img.ConvertTo(nifti.Uint8)
	if err != nil {
		t.Fatalf("ConvertTo: %v", err)
	}
	if u8.Data[0] != 0 || u8.Data[1] != 255 {
		t.Fatalf("uint8 scaling = %v", u8.Data)
	}
}

func TestStubAndImageNames(t *testing.T) {
	stub := nifti.Stub()
	if stub.Shape3() != [3]int{8, 8, 8} || stub.DataType != nifti.Int8 {
		t.Fatalf("unexpected stub %v %v", stub.Dims, stub.DataType)
	}
	for name, want := range map[string]bool{
		"a.nii": true, "a.NII.gz": true, "a.nii.bz2": true, "a.txt": false, "a.nii.tar": false,
	} {
		if got := nifti.IsImageFilename(name); got != want {
			t.Fatalf("IsImageFilename(%q) = %v", name, got)
		}
	}
}
