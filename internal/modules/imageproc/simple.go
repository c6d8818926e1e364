package imageproc

import (
	"context"
	"fmt"
	"math"

	"voxelpipe/internal/module"
	"voxelpipe/internal/nifti"
	"voxelpipe/internal/object"
	"voxelpipe/internal/param"
	"voxelpipe/internal/services"
)

// Noop passes images through without recording a step.
var Noop = func() *module.Definition {
	def := processDefinition("image_noop", nil, nil, func(*module.Instance) (module.Processor, error) {
		return noop{}, nil
	})
	def.Help = "Just for debugging. Module does nothing."
	return def
}()

type noop struct{}

func (noop) Process(_ context.Context, _ module.Env, items []object.Object) ([]object.Object, error) {
	return items, nil
}

// Resample scales images by a percentage or to a fixed shape.
var Resample = processDefinition("image_resample", nil, []*param.Parameter{
	param.MustSelect("mode", "percent", []param.Option{
		{Value: "percent", Name: "percent"},
		{Value: "fixed", Name: "fixed size"},
	}),
	param.Float("output_percent", 50,
		param.WithDescription("The output resolution in percent of the input"),
		param.WithVisibleJS("mode === 'percent'")),
	param.Int("output_x", 32,
		param.WithLabel("Output size X"),
		param.WithDescription("The output resolution on x-axis"),
		param.WithVisibleJS("mode === 'fixed'")),
	param.Int("output_y", 32,
		param.WithLabel("Output size Y"),
		param.WithDescription("The output resolution on y-axis"),
		param.WithVisibleJS("mode === 'fixed'")),
	param.Int("output_z", 32,
		param.WithLabel("Output size Z"),
		param.WithDescription("The output resolution on z-axis"),
		param.WithVisibleJS("mode === 'fixed'")),
	interpolationParameter("Type of interpolation for approximating voxel values"),
}, func(inst *module.Instance) (module.Processor, error) {
	return resample{inst: inst}, nil
})

type resample struct {
	inst *module.Instance
}

func (r resample) targetShape(vol *nifti.Volume) ([3]int, error) {
	switch mode := r.inst.StringValue("mode"); mode {
	case "fixed":
		return [3]int{r.inst.IntValue("output_x"), r.inst.IntValue("output_y"), r.inst.IntValue("output_z")}, nil
	case "percent":
		percent := r.inst.FloatValue("output_percent")
		var shape [3]int
		for i, d := range vol.Shape3() {
			shape[i] = max(1, int(math.Floor(float64(d)*percent/100)))
		}
		return shape, nil
	default:
		return [3]int{}, fmt.Errorf("invalid resample mode %q", mode)
	}
}

func (r resample) Process(ctx context.Context, env module.Env, items []object.Object) ([]object.Object, error) {
	imgs, out := images(items)
	interp := nifti.Interpolation(r.inst.StringValue("interpolation"))
	for _, img := range imgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vol := img.Volume()
		if !env.Stub {
			shape, err := r.targetShape(vol)
			if err != nil {
				return nil, services.Wrap(services.ErrValidation, "image_resample", "target shape", "", err)
			}
			vol, err = vol.Resample(shape, interp)
			if err != nil {
				return nil, fmt.Errorf("resample %s: %w", img.Filename(), err)
			}
		}
		out = append(out, img.Replace(r.inst.Action("", nil), object.WithVolume(vol)))
	}
	return out, nil
}

// Slice keeps a single slab of every image.
var Slice = func() *module.Definition {
	def := processDefinition("image_slice", nil, sliceParameters(), func(inst *module.Instance) (module.Processor, error) {
		return slicer{inst: inst}, nil
	})
	def.Help = "Slice a 2-dimensional array from 3-dimensional voxels."
	return def
}()

type slicer struct {
	inst *module.Instance
}

func (s slicer) Process(ctx context.Context, env module.Env, items []object.Object) ([]object.Object, error) {
	imgs, out := images(items)
	axis := s.inst.IntValue("slice_axis")
	offset := s.inst.IntValue("slice_offset")
	for _, img := range imgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vol := img.Volume()
		if !env.Stub {
			var err error
			vol, err = vol.Slice(axis, offset)
			if err != nil {
				return nil, services.Wrap(services.ErrValidation, "image_slice", img.Filename(), "", err)
			}
		}
		out = append(out, img.Replace(s.inst.Action("", nil), object.WithVolume(vol)))
	}
	return out, nil
}

// CombinedFilename is the output name of image_slice_combine.
const CombinedFilename = "combined.nii.gz"

// SliceCombine slices every image and stacks the slabs into one image.
var SliceCombine = processDefinition("image_slice_combine", []string{module.TagMultiImageProcess}, sliceParameters(),
	func(inst *module.Instance) (module.Processor, error) {
		return sliceCombiner{inst: inst}, nil
	})

type sliceCombiner struct {
	inst *module.Instance
}

func (s sliceCombiner) Process(ctx context.Context, env module.Env, items []object.Object) ([]object.Object, error) {
	imgs, out := images(items)
	if len(imgs) == 0 {
		return out, nil
	}
	axis := s.inst.IntValue("slice_axis")
	offset := s.inst.IntValue("slice_offset")
	first := imgs[0]

	vol := first.Volume()
	if !env.Stub {
		var slabs []*nifti.Volume
		for _, img := range imgs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !img.Volume().SameShape(first.Volume()) {
				continue
			}
			slab, err := img.Volume().Slice(axis, offset)
			if err != nil {
				return nil, services.Wrap(services.ErrValidation, "image_slice_combine", img.Filename(), "", err)
			}
			slabs = append(slabs, slab)
		}
		var err error
		vol, err = nifti.Concat(slabs, axis)
		if err != nil {
			return nil, fmt.Errorf("combine slices: %w", err)
		}
	}
	combined := first.Replace(s.inst.Action("", nil), object.WithVolume(vol), object.WithFilename(CombinedFilename))
	return append(out, combined), nil
}
