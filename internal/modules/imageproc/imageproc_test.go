package imageproc_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelpipe/internal/module"
	"voxelpipe/internal/modules/builtin"
	"voxelpipe/internal/modules/imageproc"
	"voxelpipe/internal/nifti"
	"voxelpipe/internal/object"
	"voxelpipe/internal/testsupport"
)

func newProcessor(t *testing.T, name string, params map[string]any) *module.Instance {
	t.Helper()
	inst, err := builtin.NewRegistry().New(name, params)
	require.NoError(t, err)
	return inst
}

func loadedImage(t *testing.T, name string, dims []int) *object.Image {
	t.Helper()
	loaded := object.Action{Name: object.ActionLoaded, Module: map[string]any{"name": "test"}, Data: map[string]any{"filename": name}}
	return object.NewImage(testsupport.Volume(t, dims, 1), name, "", "", []object.Action{loaded})
}

func run(t *testing.T, inst *module.Instance, env module.Env, items ...object.Object) []object.Object {
	t.Helper()
	require.NoError(t, inst.Prepare(context.Background(), env))
	out, err := inst.AsProcessor().Process(context.Background(), env, items)
	require.NoError(t, err)
	return out
}

func TestNoopAddsNoAction(t *testing.T) {
	img := loadedImage(t, "a.nii", []int{4, 4, 4})
	out := run(t, newProcessor(t, "image_noop", nil), module.Env{}, img)
	require.Len(t, out, 1)
	assert.Same(t, img, out[0])
	assert.Len(t, out[0].Actions(), 1)
}

func TestResamplePercentAndFixed(t *testing.T) {
	img := loadedImage(t, "a.nii", []int{8, 6, 4})

	out := run(t, newProcessor(t, "image_resample", map[string]any{"output_percent": 50}), module.Env{}, img)
	require.Len(t, out, 1)
	res := out[0].(*object.Image)
	assert.Equal(t, [3]int{4, 3, 2}, res.Volume().Shape3())
	require.Len(t, res.Actions(), 2)
	assert.Equal(t, "image_resample", res.Actions()[1].Name)

	out = run(t, newProcessor(t, "image_resample", map[string]any{
		"mode": "fixed", "output_x": 2, "output_y": 2, "output_z": 3, "interpolation": "nearest",
	}), module.Env{}, img)
	assert.Equal(t, [3]int{2, 2, 3}, out[0].(*object.Image).Volume().Shape3())
}

func TestResampleStubKeepsPayloadAndRecordsStep(t *testing.T) {
	img := object.NewImage(nifti.Stub(), "a.nii", "", "", nil)
	out := run(t, newProcessor(t, "image_resample", nil), module.Env{Stub: true}, img)
	res := out[0].(*object.Image)
	assert.Equal(t, nifti.Stub().Shape3(), res.Volume().Shape3())
	assert.Len(t, res.Actions(), 1)
}

func TestSliceRecordsStepInStubMode(t *testing.T) {
	img := loadedImage(t, "a.nii", []int{4, 4, 4})
	inst := newProcessor(t, "image_slice", map[string]any{"slice_axis": 2, "slice_offset": 10})

	out := run(t, inst, module.Env{}, img)
	require.Len(t, out, 1)
	assert.Equal(t, [3]int{4, 4, 1}, out[0].(*object.Image).Volume().Shape3())

	stub := run(t, inst, module.Env{Stub: true}, img)
	require.Len(t, stub, 1)
	assert.True(t, object.ChainsMatch(out[0].Actions(), stub[0].Actions()))
}

func TestSliceCombineStacksMatchingShapes(t *testing.T) {
	inst := newProcessor(t, "image_slice_combine", map[string]any{"slice_axis": 0, "slice_offset": 1})
	out := run(t, inst, module.Env{},
		loadedImage(t, "a.nii", []int{4, 4, 4}),
		loadedImage(t, "b.nii", []int{4, 4, 4}),
		loadedImage(t, "odd.nii", []int{5, 4, 4}),
	)
	require.Len(t, out, 1)
	combined := out[0].(*object.Image)
	assert.Equal(t, imageproc.CombinedFilename, combined.Filename())
	assert.Equal(t, [3]int{2, 4, 4}, combined.Volume().Shape3())
}

func TestMaskAtlasSplitsRegions(t *testing.T) {
	data := t.TempDir()
	atlas, err := nifti.New([]int{6, 6, 6}, nifti.Uint8)
	require.NoError(t, err)
	atlas.Set(1, 1, 1, 1)
	atlas.Set(2, 1, 1, 1)
	atlas.Set(4, 4, 4, 2)
	require.NoError(t, nifti.Save(filepath.Join(data, "atlas.nii"), atlas))

	inst := newProcessor(t, "image_mask_atlas", map[string]any{
		"atlas_file":     "atlas.nii",
		"max_num_voxels": 100,
		"output_dtype":   "float64",
	})
	env := module.Env{DataDir: data}
	img := loadedImage(t, "brain.nii", []int{6, 6, 6})
	out := run(t, inst, env, img)

	// Region 0 covers almost the whole atlas and exceeds max_num_voxels.
	require.Len(t, out, 2)
	first := out[0].(*object.Image)
	assert.Equal(t, "mask_1", first.SubPath())
	assert.Equal(t, "mask_1", first.Actions()[1].Name)
	assert.Equal(t, [3]int{4, 3, 3}, first.Volume().Shape3())
	assert.Equal(t, nifti.Float64, first.Volume().DataType)
	assert.Equal(t, img.Volume().At(1, 1, 1), first.Volume().At(1, 1, 1))
	assert.Equal(t, 0.0, first.Volume().At(0, 0, 0))

	second := out[1].(*object.Image)
	assert.Equal(t, "mask_2", second.SubPath())
	assert.Equal(t, [3]int{3, 3, 3}, second.Volume().Shape3())

	assert.Equal(t, first.Source(), second.Source())
}

func TestMaskAtlasResamplesMismatchedImages(t *testing.T) {
	data := t.TempDir()
	atlas, err := nifti.New([]int{4, 4, 4}, nifti.Uint8)
	require.NoError(t, err)
	atlas.Set(0, 0, 0, 3)
	require.NoError(t, nifti.Save(filepath.Join(data, "atlas.nii"), atlas))

	inst := newProcessor(t, "image_mask_atlas", map[string]any{"atlas_file": "atlas.nii", "crop_result": false})
	out := run(t, inst, module.Env{DataDir: data}, loadedImage(t, "brain.nii", []int{8, 8, 8}))
	require.Len(t, out, 2)
	for _, obj := range out {
		assert.Equal(t, [3]int{4, 4, 4}, obj.(*object.Image).Volume().Shape3())
	}
}

func TestMaskAtlasRequiresAtlas(t *testing.T) {
	inst := newProcessor(t, "image_mask_atlas", nil)
	require.Error(t, inst.Prepare(context.Background(), module.Env{DataDir: t.TempDir()}))
}

func TestMaskAtlasKeepsRegionOrderAcrossWorkers(t *testing.T) {
	data := t.TempDir()
	atlas, err := nifti.New([]int{6, 6, 2}, nifti.Uint8)
	require.NoError(t, err)
	for v := 1; v <= 12; v++ {
		atlas.Set(v%6, v/6, 0, float64(v))
	}
	require.NoError(t, nifti.Save(filepath.Join(data, "atlas.nii"), atlas))

	inst := newProcessor(t, "image_mask_atlas", map[string]any{"atlas_file": "atlas.nii", "crop_result": false})
	img := loadedImage(t, "brain.nii", []int{6, 6, 2})
	out := run(t, inst, module.Env{DataDir: data}, img)

	require.Len(t, out, 13)
	for v := 1; v <= 12; v++ {
		masked := out[v].(*object.Image)
		assert.Equal(t, imageproc.RegionName(float64(v)), masked.SubPath())
		assert.Equal(t, img.Volume().At(v%6, v/6, 0), masked.Volume().At(v%6, v/6, 0))
		nonZero := 0
		for _, value := range masked.Volume().Data {
			if value != 0 {
				nonZero++
			}
		}
		assert.Equal(t, 1, nonZero, "region %d", v)
	}
}

func TestMaskAtlasStopsOnCancel(t *testing.T) {
	data := t.TempDir()
	atlas, err := nifti.New([]int{4, 4, 4}, nifti.Uint8)
	require.NoError(t, err)
	atlas.Set(1, 1, 1, 1)
	require.NoError(t, nifti.Save(filepath.Join(data, "atlas.nii"), atlas))

	inst := newProcessor(t, "image_mask_atlas", map[string]any{"atlas_file": "atlas.nii"})
	env := module.Env{DataDir: data}
	require.NoError(t, inst.Prepare(context.Background(), env))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = inst.AsProcessor().Process(ctx, env, []object.Object{loadedImage(t, "brain.nii", []int{4, 4, 4})})
	require.ErrorIs(t, err, context.Canceled)
}
