package module

import (
	"context"
	"fmt"
	"maps"

	"voxelpipe/internal/object"
	"voxelpipe/internal/param"
)

// Instance is a configured module taking part in a pipeline.
type Instance struct {
	def    *Definition
	form   *param.Form
	uuid   string
	values map[string]any

	source    Source
	filter    Filter
	processor Processor

	prepared   bool
	prepareErr error
}

// Persisted is the stored shape of an instance inside pipeline configurations.
type Persisted struct {
	Name            string         `json:"name" yaml:"name"`
	UUID            string         `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Version         int            `json:"version,omitempty" yaml:"version,omitempty"`
	ParameterValues map[string]any `json:"parameter_values,omitempty" yaml:"parameter_values,omitempty"`
}

func newInstance(def *Definition, form *param.Form, uuid string, values map[string]any) (*Instance, error) {
	inst := &Instance{def: def, form: form, uuid: uuid, values: values}
	var err error
	switch def.Capability {
	case CapSource:
		inst.source, err = def.NewSource(inst)
	case CapFilter:
		inst.filter, err = def.NewFilter(inst)
	case CapProcess:
		inst.processor, err = def.NewProcessor(inst)
	}
	if err != nil {
		return nil, fmt.Errorf("construct module %s: %w", def.Name, err)
	}
	return inst, nil
}

func (i *Instance) UUID() string { return i.uuid }
func (i *Instance) Name() string { return i.def.Name }
func (i *Instance) Definition() *Definition { return i.def }
func (i *Instance) Capability() Capability { return i.def.Capability }
func (i *Instance) Form() *param.Form { return i.form }
func (i *Instance) String() string { return fmt.Sprintf("%s/%s", i.def.Name, i.uuid) }
func (i *Instance) AsSource() Source { return i.source }
func (i *Instance) AsFilter() Filter { return i.filter }
func (i *Instance) AsProcessor() Processor { return i.processor }
func (i *Instance) Accepts(t object.DataType) bool { return i.def.Accepts(t) }

// GetValue resolves the instance value, falling back to the form default.
func (i *Instance) GetValue(name string) any {
	if v, ok := i.values[name]; ok {
		return v
	}
	return i.form.DefaultValue(name)
}

// IntValue returns an int parameter value; zero when unset or of another kind.
func (i *Instance) IntValue(name string) int {
	v, _ := i.GetValue(name).(int)
	return v
}

func (i *Instance) FloatValue(name string) float64 {
	switch v := i.GetValue(name).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func (i *Instance) StringValue(name string) string {
	v, _ := i.GetValue(name).(string)
	return v
}

func (i *Instance) BoolValue(name string) bool {
	v, _ := i.GetValue(name).(bool)
	return v
}

// ParameterValues returns defaults merged under the instance values.
func (i *Instance) ParameterValues() map[string]any {
	return i.form.Values(i.values)
}

// Prepare runs the module's setup at most once. A failure is remembered and
// returned on later calls.
func (i *Instance) Prepare(ctx context.Context, env Env) error {
	if i.prepared {
		return i.prepareErr
	}
	i.prepared = true
	var impl any
	switch i.def.Capability {
	case CapSource:
		impl = i.source
	case CapFilter:
		impl = i.filter
	case CapProcess:
		impl = i.processor
	}
	if p, ok := impl.(Preparer); ok {
		if err := p.Prepare(ctx, env); err != nil {
			i.prepareErr = fmt.Errorf("prepare module %s: %w", i, err)
		}
	}
	return i.prepareErr
}

// Snapshot is the module description embedded in every action record.
func (i *Instance) Snapshot() map[string]any {
	var help any
	if i.def.Help != "" {
		help = param.DedentHelp(i.def.Help)
	}
	return map[string]any{
		"name":             i.def.Name,
		"group":            i.def.Group(),
		"tags":             append([]string{}, i.def.Tags...),
		"version":          i.def.Version,
		"help":             help,
		"uuid":             i.uuid,
		"parameter_values": i.ParameterValues(),
	}
}

// Action builds an action record for this module. An empty name uses the
// module name.
func (i *Instance) Action(name string, data map[string]any) object.Action {
	if name == "" {
		name = i.def.Name
	}
	if data == nil {
		data = map[string]any{}
	}
	return object.Action{Name: name, Module: i.Snapshot(), Data: data}
}

// Persist returns the stored shape of the instance.
func (i *Instance) Persist() Persisted {
	return Persisted{
		Name:            i.def.Name,
		UUID:            i.uuid,
		Version:         i.def.Version,
		ParameterValues: maps.Clone(i.values),
	}
}
