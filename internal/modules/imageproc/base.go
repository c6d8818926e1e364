// Package imageproc holds the built-in image process modules.
package imageproc

import (
	"voxelpipe/internal/module"
	"voxelpipe/internal/nifti"
	"voxelpipe/internal/object"
	"voxelpipe/internal/param"
)

var imageTypes = []object.DataType{object.TypeImage}

func processDefinition(name string, tags []string, params []*param.Parameter, newProc func(*module.Instance) (module.Processor, error)) *module.Definition {
	if tags == nil {
		tags = []string{module.TagImageProcess}
	}
	return &module.Definition{
		Name:         name,
		Version:      1,
		Capability:   module.CapProcess,
		SubGroup:     []string{module.SubGroupImage},
		Tags:         tags,
		InputTypes:   imageTypes,
		OutputTypes:  imageTypes,
		Parameters:   params,
		NewProcessor: newProc,
	}
}

func interpolationParameter(description string, opts ...param.Opt) *param.Parameter {
	opts = append([]param.Opt{param.WithDescription(description)}, opts...)
	return param.MustSelect("interpolation", string(nifti.Continuous), []param.Option{
		{Value: string(nifti.Nearest), Name: "none"},
		{Value: string(nifti.Linear), Name: "linear"},
		{Value: string(nifti.Continuous), Name: "continuous"},
	}, opts...)
}

func sliceParameters() []*param.Parameter {
	return []*param.Parameter{
		param.Int("slice_axis", 0, param.WithMin(0), param.WithDescription("Select axis of slice")),
		param.Int("slice_offset", 0, param.WithMin(0), param.WithDescription("Voxel offset of the slice")),
	}
}

// images splits items into images and everything else.
func images(items []object.Object) ([]*object.Image, []object.Object) {
	var imgs []*object.Image
	var rest []object.Object
	for _, item := range items {
		if img, ok := item.(*object.Image); ok {
			imgs = append(imgs, img)
			continue
		}
		rest = append(rest, item)
	}
	return imgs, rest
}
