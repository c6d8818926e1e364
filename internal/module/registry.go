package module

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"voxelpipe/internal/object"
	"voxelpipe/internal/param"
	"voxelpipe/internal/services"
)

// ErrDuplicateModule reports a second, different definition under a registered name.
var ErrDuplicateModule = errors.New("duplicate module")

// UUIDPrefix marks module instance identifiers.
const UUIDPrefix = "mod-"

type registered struct {
	def  *Definition
	form *param.Form
}

// Registry holds the module kinds known to a process. Populate it at startup
// before handing it to concurrent readers.
type Registry struct {
	defs map[string]registered
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]registered)}
}

// Register adds a definition. Registering the same definition twice is a no-op.
func (r *Registry) Register(def *Definition) error {
	if err := def.check(); err != nil {
		return err
	}
	if existing, ok := r.defs[def.Name]; ok {
		if existing.def == def {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateModule, def.Name)
	}
	params := append(append([]*param.Parameter{}, def.Parameters...), baseParameters(def.Capability)...)
	form, err := param.NewForm(params...)
	if err != nil {
		return fmt.Errorf("module %s: %w", def.Name, err)
	}
	r.defs[def.Name] = registered{def: def, form: form}
	return nil
}

// MustRegister registers every definition and panics on the first error.
func (r *Registry) MustRegister(defs ...*Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	reg, ok := r.defs[name]
	return reg.def, ok
}

// New creates an instance with a fresh uuid. Parameter values are validated
// strictly: unknown names and invalid values fail.
func (r *Registry) New(name string, params map[string]any) (*Instance, error) {
	reg, ok := r.defs[name]
	if !ok {
		return nil, services.Wrap(services.ErrUnknownModule, "module", "new", fmt.Sprintf("module %q is not registered", name), nil)
	}
	values, err := reg.form.Validate(params, true)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", name, err)
	}
	return newInstance(reg.def, reg.form, NewUUID(), values)
}

// FromPersisted rebuilds an instance from stored configuration. Unknown or
// no longer valid parameter values are dropped so current defaults apply.
func (r *Registry) FromPersisted(p Persisted) (*Instance, error) {
	reg, ok := r.defs[p.Name]
	if !ok {
		return nil, services.Wrap(services.ErrUnknownModule, "module", "load", fmt.Sprintf("module %q is not registered", p.Name), nil)
	}
	values := make(map[string]any, len(p.ParameterValues))
	for name, raw := range p.ParameterValues {
		prm, ok := reg.form.Parameter(name)
		if !ok {
			continue
		}
		v, err := prm.Validate(raw)
		if err != nil {
			continue
		}
		values[name] = v
	}
	id := strings.TrimSpace(p.UUID)
	if id == "" {
		id = NewUUID()
	}
	return newInstance(reg.def, reg.form, id, values)
}

// NewUUID returns a fresh module instance identifier.
func NewUUID() string {
	return UUIDPrefix + uuid.NewString()
}

var stableNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("voxelpipe/module"))

// StableUUID derives an instance identifier from the given parts. Equal parts
// always give the same identifier.
func StableUUID(parts ...string) string {
	return UUIDPrefix + uuid.NewSHA1(stableNamespace, []byte(strings.Join(parts, "\x00"))).String()
}

// Descriptor is the listing shape of a registered module.
type Descriptor struct {
	Name        string              `json:"name"`
	Group       []string            `json:"group"`
	Tags        []string            `json:"tags"`
	Version     int                 `json:"version"`
	Help        string              `json:"help,omitempty"`
	InputTypes  []object.DataType   `json:"input_types"`
	OutputTypes []object.DataType   `json:"output_types"`
	Parameters  []param.Description `json:"parameters"`
}

// List returns every registered module sorted by group path, then name.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.defs))
	for _, reg := range r.defs {
		def := reg.def
		out = append(out, Descriptor{
			Name:        def.Name,
			Group:       def.Group(),
			Tags:        append([]string{}, def.Tags...),
			Version:     def.Version,
			Help:        param.DedentHelp(def.Help),
			InputTypes:  append([]object.DataType{}, def.InputTypes...),
			OutputTypes: append([]object.DataType{}, def.OutputTypes...),
			Parameters:  reg.form.Describe(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		gi, gj := strings.Join(out[i].Group, "/"), strings.Join(out[j].Group, "/")
		if gi != gj {
			return gi < gj
		}
		return out[i].Name < out[j].Name
	})
	return out
}
