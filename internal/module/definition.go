package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voxelpipe/internal/object"
	"voxelpipe/internal/param"
)

// Capability is the closed set of roles a module can play in a pipeline.
type Capability int

const (
	CapSource Capability = iota + 1
	CapFilter
	CapProcess
)

// String returns the top-level group name of the capability.
func (c Capability) String() string {
	switch c {
	case CapSource:
		return GroupSource
	case CapFilter:
		return GroupFilter
	case CapProcess:
		return GroupProcess
	default:
		return "unknown"
	}
}

// Group names.
const (
	GroupSource  = "source"
	GroupFilter  = "filter"
	GroupProcess = "process"

	SubGroupFile  = "file"
	SubGroupImage = "image"
)

// Tags.
const (
	TagImageProcess      = "image_process"
	TagMultiImageProcess = "multi_image_process"
)

// Names of the base parameters every module of a capability carries.
const (
	ParamObjectSubPath = "module_object_sub_path"
	ParamStoreResult   = "module_store_result"
	ParamResultPath    = "module_result_path"
)

// Env is what the graph hands to a module for one pass.
type Env struct {
	// DataDir is the root all data-relative filenames resolve against.
	DataDir string
	// SidecarExt is the extension of descriptor sidecars that scans must skip.
	SidecarExt string
	// Stub replaces real payloads with placeholders and suppresses I/O.
	Stub     bool
	Interval int
	Offset   int
	Logger   *slog.Logger
}

// Source enumerates items. Implementations must visit entries in a
// reproducible order and honour Env.Interval and Env.Offset.
type Source interface {
	Objects(ctx context.Context, env Env, emit func(object.Object) error) error
	ObjectCount(ctx context.Context, env Env) (int, error)
}

// Filter consumes the full upstream item list.
type Filter interface {
	Filter(ctx context.Context, env Env, items []object.Object) ([]object.Object, error)
}

// Processor transforms items whose data type matches the definition's input types.
type Processor interface {
	Process(ctx context.Context, env Env, items []object.Object) ([]object.Object, error)
}

// Preparer is implemented by modules that need setup before a run.
type Preparer interface {
	Prepare(ctx context.Context, env Env) error
}

// Definition describes a module kind. Exactly one constructor matching
// Capability must be set.
type Definition struct {
	Name        string
	Version     int
	Capability  Capability
	SubGroup    []string
	Tags        []string
	Help        string
	InputTypes  []object.DataType
	OutputTypes []object.DataType
	Parameters  []*param.Parameter

	NewSource    func(*Instance) (Source, error)
	NewFilter    func(*Instance) (Filter, error)
	NewProcessor func(*Instance) (Processor, error)
}

// Group returns the full group path, capability first.
func (d *Definition) Group() []string {
	return append([]string{d.Capability.String()}, d.SubGroup...)
}

// Accepts reports whether items of the given type are handed to the module.
func (d *Definition) Accepts(t object.DataType) bool {
	for _, in := range d.InputTypes {
		if in == t {
			return true
		}
	}
	return false
}

// Produces reports whether the module may emit items of the given type.
func (d *Definition) Produces(t object.DataType) bool {
	for _, out := range d.OutputTypes {
		if out == t {
			return true
		}
	}
	return false
}

func (d *Definition) check() error {
	if d == nil {
		return errors.New("nil module definition")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("module definition requires a name")
	}
	var constructors int
	for _, set := range []bool{d.NewSource != nil, d.NewFilter != nil, d.NewProcessor != nil} {
		if set {
			constructors++
		}
	}
	if constructors != 1 {
		return fmt.Errorf("module %s: expected exactly one constructor, got %d", d.Name, constructors)
	}
	switch d.Capability {
	case CapSource:
		if d.NewSource == nil {
			return fmt.Errorf("module %s: source capability requires NewSource", d.Name)
		}
	case CapFilter:
		if d.NewFilter == nil {
			return fmt.Errorf("module %s: filter capability requires NewFilter", d.Name)
		}
	case CapProcess:
		if d.NewProcessor == nil {
			return fmt.Errorf("module %s: process capability requires NewProcessor", d.Name)
		}
	default:
		return fmt.Errorf("module %s: unknown capability %d", d.Name, d.Capability)
	}
	return nil
}

func baseParameters(c Capability) []*param.Parameter {
	switch c {
	case CapSource:
		return []*param.Parameter{
			param.String(ParamObjectSubPath, "",
				param.WithDescription("Prepend all filenames with this Sub-directory"),
				param.NotRequired()),
		}
	case CapProcess:
		return []*param.Parameter{
			param.Bool(ParamStoreResult, false,
				param.WithDescription("Store the result of this processing step."),
				param.WithHelp(`
					If selected each processed object is stored to disk.

					The final module in a pipeline will store its results in any case.
				`)),
			param.String(ParamResultPath, "",
				param.WithDescription("Sub-directory where the results are stored."),
				param.WithHelp(`
					The processed objects of this module will be stored in:

					    <pipeline target path>/<result path>/<object sub-path>/<object filename>

					Leave the result path empty to use the module's name.
				`),
				param.NotRequired()),
		}
	default:
		return nil
	}
}
