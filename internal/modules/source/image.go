package source

import (
	"context"

	"voxelpipe/internal/module"
	"voxelpipe/internal/object"
	"voxelpipe/internal/services"
)

// ImageDirectory emits the volume files below a data directory as images.
// Files that are not volumes are skipped. Stub runs use placeholder volumes.
var ImageDirectory = &module.Definition{
	Name:        "image_source_directory",
	Version:     1,
	Capability:  module.CapSource,
	SubGroup:    []string{module.SubGroupImage},
	OutputTypes: []object.DataType{object.TypeImage},
	Parameters:  directoryParameters(),
	NewSource: func(inst *module.Instance) (module.Source, error) {
		return &imageSource{files: directorySource{inst: inst}}, nil
	},
}

type imageSource struct {
	files directorySource
}

func (s *imageSource) ObjectCount(ctx context.Context, env module.Env) (int, error) {
	return s.files.ObjectCount(ctx, env)
}

func (s *imageSource) Objects(ctx context.Context, env module.Env, emit func(object.Object) error) error {
	return s.files.Objects(ctx, env, func(obj object.Object) error {
		file, ok := obj.(*object.File)
		if !ok {
			return nil
		}
		img, err := file.AsImage(env.Stub)
		if err != nil {
			return services.Wrap(services.ErrIO, "source", "load image", file.Filename(), err)
		}
		if img == nil {
			return nil
		}
		return emit(img)
	})
}
