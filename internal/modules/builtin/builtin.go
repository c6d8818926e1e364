// Package builtin registers the modules shipped with voxelpipe.
package builtin

import (
	"voxelpipe/internal/module"
	"voxelpipe/internal/modules/filter"
	"voxelpipe/internal/modules/imageproc"
	"voxelpipe/internal/modules/source"
)

// Definitions lists every built-in module.
func Definitions() []*module.Definition {
	return []*module.Definition{
		source.FileDirectory,
		source.ImageDirectory,
		filter.Count,
		imageproc.Noop,
		imageproc.Resample,
		imageproc.Slice,
		imageproc.SliceCombine,
		imageproc.MaskAtlas,
	}
}

// Register adds the built-in modules to reg.
func Register(reg *module.Registry) error {
	for _, def := range Definitions() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in modules.
func NewRegistry() *module.Registry {
	reg := module.NewRegistry()
	reg.MustRegister(Definitions()...)
	return reg
}
