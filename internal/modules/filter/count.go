// Package filter holds the built-in filter modules.
package filter

import (
	"context"

	"voxelpipe/internal/module"
	"voxelpipe/internal/object"
	"voxelpipe/internal/param"
)

// Count keeps the first max_count items of the stream.
var Count = &module.Definition{
	Name:        "filter_count",
	Version:     1,
	Capability:  module.CapFilter,
	InputTypes:  object.AllTypes,
	OutputTypes: object.AllTypes,
	Parameters: []*param.Parameter{
		param.Int("max_count", 0,
			param.WithMin(0),
			param.WithDescription("Limit the number of items if not zero. The limit applies per worker process.")),
	},
	NewFilter: func(inst *module.Instance) (module.Filter, error) {
		return countFilter{inst: inst}, nil
	},
}

type countFilter struct {
	inst *module.Instance
}

func (f countFilter) Filter(_ context.Context, _ module.Env, items []object.Object) ([]object.Object, error) {
	limit := f.inst.IntValue("max_count")
	if limit <= 0 || len(items) <= limit {
		return items, nil
	}
	for _, dropped := range items[limit:] {
		dropped.Discard()
	}
	return items[:limit], nil
}
