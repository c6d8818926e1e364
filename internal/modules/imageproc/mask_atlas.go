package imageproc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"voxelpipe/internal/module"
	"voxelpipe/internal/nifti"
	"voxelpipe/internal/object"
	"voxelpipe/internal/param"
	"voxelpipe/internal/services"
	"voxelpipe/internal/workerpool"
)

// MaskAtlas splits every image into one output per atlas region.
var MaskAtlas = func() *module.Definition {
	def := processDefinition("image_mask_atlas", []string{module.TagMultiImageProcess}, []*param.Parameter{
		param.Filename("atlas_file", "", param.WithDescription("The filename of the atlas")),
		interpolationParameter("Type of interpolation used for resampling to the atlas shape",
			param.WithHelp(`
				If the shape of the input image does not match the shape of the atlas, it
				will be resampled to the atlas shape.

				The **continuous** setting usually creates the best results.
			`)),
		param.Bool("crop_result", true, param.WithDescription("Crop the resulting images to the region of interest")),
		param.Int("max_num_voxels", 0, param.WithMin(0),
			param.WithDescription("If not zero, skip all regions that produce more voxels than this number")),
		param.MustSelect("output_dtype", "float32", []param.Option{
			{Value: "uint8", Name: "8 bit unsigned int"},
			{Value: "float32", Name: "32 bit float"},
			{Value: "float64", Name: "64 bit float"},
		}, param.WithDescription("Data type of the output")),
	}, func(inst *module.Instance) (module.Processor, error) {
		return &maskAtlas{inst: inst}, nil
	})
	def.Help = `
		Split the input image into several output images, each representing one region
		defined by an *atlas* image.

		The atlas file must be in **integer format**, each number representing
		one region.

		Each region is added to the sub path, e.g.

		    dir/brain.nii

		is split into

		    dir/mask_1/brain.nii
		    dir/mask_2/brain.nii
		    ...

		The resulting images can be cropped to the minimum shape required to
		represent each region.
	`
	return def
}()

type maskAtlas struct {
	inst *module.Instance

	atlas   *nifti.Volume
	regions []float64
	crops   map[float64]nifti.Box
}

// Prepare loads the atlas and decides which regions are emitted.
func (m *maskAtlas) Prepare(_ context.Context, env module.Env) error {
	name := strings.TrimSpace(m.inst.StringValue("atlas_file"))
	if name == "" {
		return services.Wrap(services.ErrValidation, "image_mask_atlas", "prepare", "atlas_file is not set", nil)
	}
	atlas, err := nifti.Load(filepath.Join(env.DataDir, strings.TrimLeft(name, "/")))
	if err != nil {
		return services.Wrap(services.ErrIO, "image_mask_atlas", "load atlas", name, err)
	}
	m.atlas = atlas
	m.crops = make(map[float64]nifti.Box)

	crop := m.inst.BoolValue("crop_result")
	maxVoxels := m.inst.IntValue("max_num_voxels")
	values := atlas.DistinctValues()
	if !crop && maxVoxels == 0 {
		m.regions = values
		return nil
	}
	m.regions = m.regions[:0]
	for _, value := range values {
		box, err := regionBox(atlas, value)
		if err != nil {
			return err
		}
		if maxVoxels > 0 && box.Size() > maxVoxels {
			continue
		}
		m.regions = append(m.regions, value)
		if crop {
			m.crops[value] = box
		}
	}
	return nil
}

// regionBox is the bounding box of voxels equal to value, padded by one voxel.
func regionBox(atlas *nifti.Volume, value float64) (nifti.Box, error) {
	shape := atlas.Shape3()
	mask, err := nifti.New(shape[:], nifti.Uint8)
	if err != nil {
		return nifti.Box{}, err
	}
	for i, v := range atlas.Data[:mask.Len()] {
		if v == value {
			mask.Data[i] = 1
		}
	}
	box, ok := mask.NonZeroBox(1)
	if !ok {
		return nifti.Box{}, fmt.Errorf("atlas region %v is empty", value)
	}
	return box, nil
}

// RegionName is the action name and sub directory of a region.
func RegionName(value float64) string {
	return "mask_" + strconv.FormatFloat(value, 'f', -1, 64)
}

func (m *maskAtlas) Process(ctx context.Context, env module.Env, items []object.Object) ([]object.Object, error) {
	if m.atlas == nil {
		return nil, errors.New("image_mask_atlas: module was not prepared")
	}
	dtype, err := nifti.ParseDataType(m.inst.StringValue("output_dtype"))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "image_mask_atlas", "output dtype", "", err)
	}
	interp := nifti.Interpolation(m.inst.StringValue("interpolation"))

	imgs, out := images(items)
	for _, img := range imgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		brain := img.Volume()
		if !env.Stub && brain.Shape3() != m.atlas.Shape3() {
			brain, err = brain.Resample(m.atlas.Shape3(), interp)
			if err != nil {
				return nil, fmt.Errorf("resample %s to atlas: %w", img.Filename(), err)
			}
			brain.Affine = m.atlas.Affine
		}
		vols := make([]*nifti.Volume, len(m.regions))
		if env.Stub {
			for i := range vols {
				vols[i] = img.Volume()
			}
		} else if vols, err = m.maskRegions(ctx, env, brain, dtype); err != nil {
			return nil, fmt.Errorf("mask %s: %w", img.Filename(), err)
		}
		for i, value := range m.regions {
			name := RegionName(value)
			out = append(out, img.Replace(m.inst.Action(name, nil), object.WithVolume(vols[i]), object.AddSubPath(name)))
		}
	}
	return out, nil
}

// maskRegions masks every region of brain on a goroutine pool. The result
// follows the order of m.regions.
func (m *maskAtlas) maskRegions(ctx context.Context, env module.Env, brain *nifti.Volume, dtype nifti.DataType) ([]*nifti.Volume, error) {
	vols := make([]*nifti.Volume, len(m.regions))
	if len(vols) == 0 {
		return vols, nil
	}
	pool := workerpool.New(
		workerpool.WithSize(min(len(vols), runtime.GOMAXPROCS(0))),
		workerpool.WithLogger(env.Logger),
	)
	if err := pool.Start(ctx); err != nil {
		return nil, err
	}
	for i, value := range m.regions {
		err := pool.Submit(func(context.Context) error {
			vol, err := m.maskRegion(brain, value, dtype)
			if err != nil {
				return fmt.Errorf("region %v: %w", value, err)
			}
			vols[i] = vol
			return nil
		})
		if err != nil {
			_ = pool.Stop(false)
			return nil, err
		}
	}
	if err := pool.Stop(true); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vols, nil
}

func (m *maskAtlas) maskRegion(brain *nifti.Volume, value float64, dtype nifti.DataType) (*nifti.Volume, error) {
	masked, err := brain.Mask(m.atlas, value)
	if err != nil {
		return nil, err
	}
	masked, err = masked.ConvertTo(dtype)
	if err != nil {
		return nil, err
	}
	if box, ok := m.crops[value]; ok {
		return masked.Crop(box)
	}
	return masked, nil
}
