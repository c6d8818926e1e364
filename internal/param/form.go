package param

import (
	"fmt"
	"sort"
)

// Form is an ordered, name-unique set of parameters.
type Form struct {
	params []*Parameter
	index  map[string]int
}

// NewForm builds a form, rejecting duplicate parameter names.
func NewForm(params ...*Parameter) (*Form, error) {
	f := &Form{index: make(map[string]int, len(params))}
	for _, p := range params {
		if p == nil {
			continue
		}
		if _, dup := f.index[p.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter name %q", p.Name)
		}
		f.index[p.Name] = len(f.params)
		f.params = append(f.params, p)
	}
	return f, nil
}

// Extend returns a new form with params appended after the existing ones.
func (f *Form) Extend(params ...*Parameter) (*Form, error) {
	all := make([]*Parameter, 0, f.Len()+len(params))
	if f != nil {
		all = append(all, f.params...)
	}
	all = append(all, params...)
	return NewForm(all...)
}

// Len returns the number of parameters.
func (f *Form) Len() int {
	if f == nil {
		return 0
	}
	return len(f.params)
}

// Parameters returns the parameters in declaration order.
func (f *Form) Parameters() []*Parameter {
	if f == nil {
		return nil
	}
	return append([]*Parameter(nil), f.params...)
}

// Parameter looks up a parameter by name.
func (f *Form) Parameter(name string) (*Parameter, bool) {
	if f == nil {
		return nil, false
	}
	idx, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.params[idx], true
}

// DefaultValues returns the default of every parameter.
func (f *Form) DefaultValues() map[string]any {
	out := make(map[string]any, f.Len())
	for _, p := range f.Parameters() {
		out[p.Name] = p.DefaultValue()
	}
	return out
}

// DefaultValue returns the default of the named parameter, or nil.
func (f *Form) DefaultValue(name string) any {
	if p, ok := f.Parameter(name); ok {
		return p.DefaultValue()
	}
	return nil
}

// Values applies overrides onto the defaults. Override keys the form does
// not declare are ignored.
func (f *Form) Values(overrides map[string]any) map[string]any {
	out := f.DefaultValues()
	for key := range out {
		if v, ok := overrides[key]; ok {
			out[key] = v
		}
	}
	return out
}

// Validate coerces every known value. Unknown names are an error when
// requireKnown is set and are passed through unchanged otherwise.
func (f *Form) Validate(values map[string]any, requireKnown bool) (map[string]any, error) {
	out := make(map[string]any, len(values))
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := values[name]
		p, ok := f.Parameter(name)
		if !ok {
			if requireKnown {
				return nil, &ValidationError{Msg: fmt.Sprintf("Unknown parameter '%s'", name)}
			}
			out[name] = value
			continue
		}
		validated, err := p.Validate(value)
		if err != nil {
			return nil, err
		}
		out[name] = validated
	}
	return out, nil
}

// Description is the listing shape of a parameter.
type Description struct {
	Type        Kind     `json:"type" yaml:"type"`
	Name        string   `json:"name" yaml:"name"`
	Label       string   `json:"human_name" yaml:"human_name"`
	Required    bool     `json:"required" yaml:"required"`
	Default     any      `json:"default_value" yaml:"default_value"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Help        string   `json:"help,omitempty" yaml:"help,omitempty"`
	VisibleJS   string   `json:"visible_js,omitempty" yaml:"visible_js,omitempty"`
	Min         *float64 `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	Max         *float64 `json:"max_value,omitempty" yaml:"max_value,omitempty"`
	MaxLength   int      `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Options     []Option `json:"options,omitempty" yaml:"options,omitempty"`
}

// Describe returns the listing shape of the parameter.
func (p *Parameter) Describe() Description {
	return Description{
		Type:        p.Kind,
		Name:        p.Name,
		Label:       p.Label,
		Required:    p.Required(),
		Default:     p.DefaultValue(),
		Description: p.Description,
		Help:        p.Help,
		VisibleJS:   p.VisibleJS,
		Min:         p.Min,
		Max:         p.Max,
		MaxLength:   p.MaxLength,
		Options:     p.Options,
	}
}

// Describe lists every parameter in declaration order.
func (f *Form) Describe() []Description {
	params := f.Parameters()
	out := make([]Description, 0, len(params))
	for _, p := range params {
		out = append(out, p.Describe())
	}
	return out
}
