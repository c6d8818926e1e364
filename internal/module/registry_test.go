package module_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelpipe/internal/module"
	"voxelpipe/internal/object"
	"voxelpipe/internal/param"
	"voxelpipe/internal/services"
)

type countingProcessor struct {
	prepares int
	fail     error
}

func (p *countingProcessor) Process(_ context.Context, _ module.Env, items []object.Object) ([]object.Object, error) {
	return items, nil
}

func (p *countingProcessor) Prepare(context.Context, module.Env) error {
	p.prepares++
	return p.fail
}

func scaleDefinition(proc *countingProcessor) *module.Definition {
	return &module.Definition{
		Name:        "scale",
		Version:     2,
		Capability:  module.CapProcess,
		SubGroup:    []string{module.SubGroupImage},
		Tags:        []string{module.TagImageProcess},
		Help:        "\n    Multiply voxels.\n    ",
		InputTypes:  []object.DataType{object.TypeImage},
		OutputTypes: []object.DataType{object.TypeImage},
		Parameters: []*param.Parameter{
			param.Float("factor", 1.5, param.WithMin(0)),
			param.Int("passes", 1),
		},
		NewProcessor: func(*module.Instance) (module.Processor, error) { return proc, nil },
	}
}

func sourceDefinition(name string) *module.Definition {
	return &module.Definition{
		Name:        name,
		Version:     1,
		Capability:  module.CapSource,
		SubGroup:    []string{module.SubGroupFile},
		OutputTypes: []object.DataType{object.TypeFile},
		NewSource:   func(*module.Instance) (module.Source, error) { return nil, nil },
	}
}

func TestRegisterRejectsConflictingDefinitions(t *testing.T) {
	reg := module.NewRegistry()
	def := scaleDefinition(&countingProcessor{})
	require.NoError(t, reg.Register(def))
	require.NoError(t, reg.Register(def), "same definition twice")

	err := reg.Register(scaleDefinition(&countingProcessor{}))
	require.ErrorIs(t, err, module.ErrDuplicateModule)
}

func TestRegisterRequiresMatchingConstructor(t *testing.T) {
	reg := module.NewRegistry()
	def := sourceDefinition("broken")
	def.Capability = module.CapFilter
	require.Error(t, reg.Register(def))
}

func TestNewValidatesStrictly(t *testing.T) {
	reg := module.NewRegistry()
	reg.MustRegister(scaleDefinition(&countingProcessor{}))

	_, err := reg.New("missing", nil)
	require.ErrorIs(t, err, services.ErrUnknownModule)

	_, err = reg.New("scale", map[string]any{"bogus": 1})
	require.ErrorIs(t, err, services.ErrValidation)

	_, err = reg.New("scale", map[string]any{"passes": "many"})
	require.ErrorIs(t, err, services.ErrValidation)

	inst, err := reg.New("scale", map[string]any{"passes": "3"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(inst.UUID(), module.UUIDPrefix))
	assert.Equal(t, 3, inst.IntValue("passes"))
	assert.Equal(t, 1.5, inst.FloatValue("factor"))
	assert.Equal(t, false, inst.BoolValue(module.ParamStoreResult))
	assert.Equal(t, []string{"process", "image"}, inst.Definition().Group())
}

func TestFromPersistedIsLenient(t *testing.T) {
	reg := module.NewRegistry()
	reg.MustRegister(scaleDefinition(&countingProcessor{}))

	inst, err := reg.FromPersisted(module.Persisted{
		Name: "scale",
		UUID: "mod-fixed",
		ParameterValues: map[string]any{
			"passes":  "not a number",
			"removed": true,
			"factor":  -4,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "mod-fixed", inst.UUID())
	assert.Equal(t, 1, inst.IntValue("passes"), "invalid value falls back to default")
	assert.Equal(t, 0.0, inst.FloatValue("factor"), "value is clamped")
	_, kept := inst.Persist().ParameterValues["removed"]
	assert.False(t, kept)

	fresh, err := reg.FromPersisted(module.Persisted{Name: "scale"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fresh.UUID(), module.UUIDPrefix))

	_, err = reg.FromPersisted(module.Persisted{Name: "gone"})
	require.True(t, errors.Is(err, services.ErrUnknownModule))
}

func TestActionEmbedsSnapshotWithDefaults(t *testing.T) {
	reg := module.NewRegistry()
	reg.MustRegister(scaleDefinition(&countingProcessor{}))
	inst, err := reg.New("scale", map[string]any{"passes": 2})
	require.NoError(t, err)

	action := inst.Action("", map[string]any{"note": "x"})
	assert.Equal(t, "scale", action.Name)
	assert.Equal(t, "x", action.Data["note"])
	assert.Equal(t, "Multiply voxels.", action.Module["help"])
	assert.Equal(t, inst.UUID(), action.Module["uuid"])
	assert.Equal(t, 2, action.Module["version"])

	values := action.Module["parameter_values"].(map[string]any)
	assert.Equal(t, 2, values["passes"])
	assert.Equal(t, 1.5, values["factor"])
	assert.Equal(t, "", values[module.ParamResultPath])

	// The same configuration yields an identical step.
	again, err := reg.FromPersisted(inst.Persist())
	require.NoError(t, err)
	assert.True(t, action.SameStep(again.Action("", nil)))

	changed, err := reg.FromPersisted(module.Persisted{Name: "scale", UUID: inst.UUID(), ParameterValues: map[string]any{"passes": 5}})
	require.NoError(t, err)
	assert.False(t, action.SameStep(changed.Action("", nil)))
}

func TestPrepareRunsOnce(t *testing.T) {
	proc := &countingProcessor{fail: errors.New("atlas missing")}
	reg := module.NewRegistry()
	reg.MustRegister(scaleDefinition(proc))
	inst, err := reg.New("scale", nil)
	require.NoError(t, err)

	require.ErrorContains(t, inst.Prepare(context.Background(), module.Env{}), "atlas missing")
	require.ErrorContains(t, inst.Prepare(context.Background(), module.Env{}), "atlas missing")
	assert.Equal(t, 1, proc.prepares)
}

func TestListSortsByGroupThenName(t *testing.T) {
	reg := module.NewRegistry()
	reg.MustRegister(
		scaleDefinition(&countingProcessor{}),
		sourceDefinition("zeta_source"),
		sourceDefinition("alpha_source"),
	)
	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "scale", list[0].Name)
	assert.Equal(t, "alpha_source", list[1].Name)
	assert.Equal(t, "zeta_source", list[2].Name)

	var names []string
	for _, p := range list[1].Parameters {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{module.ParamObjectSubPath}, names)
}
