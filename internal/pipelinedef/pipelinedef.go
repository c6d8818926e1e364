// Package pipelinedef reads pipeline definition files and converts them into
// the kwargs envelope stored with preprocessing jobs.
package pipelinedef

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"voxelpipe/internal/graph"
	"voxelpipe/internal/module"
)

// KwargsKey is the key the pipeline is stored under in job kwargs.
const KwargsKey = "plugin"

// DefaultJobName is the task that runs pipelines.
const DefaultJobName = "preprocessing"

// Pipeline is the content of a pipeline definition file.
type Pipeline struct {
	Name         string             `yaml:"name,omitempty" json:"name,omitempty"`
	TargetPath   string             `yaml:"target_path" json:"target_path"`
	SkipPolicy   string             `yaml:"skip_policy,omitempty" json:"skip_policy,omitempty" validate:"omitempty,oneof=never exists unchanged"`
	NumProcesses int                `yaml:"num_processes,omitempty" json:"num_processes,omitempty" validate:"min=0"`
	Modules      []module.Persisted `yaml:"modules" json:"modules" validate:"required,min=1,dive"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			return strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		})
		validate.RegisterStructValidation(func(sl validator.StructLevel) {
			p := sl.Current().Interface().(module.Persisted)
			if strings.TrimSpace(p.Name) == "" {
				sl.ReportError(p.Name, "name", "Name", "required", "")
			}
		}, module.Persisted{})
	})
	return validate
}

// Load reads a YAML pipeline file.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes YAML and checks the structure. Unknown keys are errors.
func Parse(data []byte) (*Pipeline, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("pipeline file is empty")
		}
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	if err := p.validateStructure(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Pipeline) validateStructure() error {
	err := structValidator().Struct(p)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid pipeline: %w", err)
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		key := fe.Namespace()
		if idx := strings.IndexByte(key, '.'); idx >= 0 {
			key = key[idx+1:]
		}
		switch fe.Tag() {
		case "required":
			messages = append(messages, key+" is required")
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be >= %s", key, fe.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fmt.Sprint(fe.Value())))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s validation", key, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid pipeline: %s", strings.Join(messages, "; "))
}

// JobName returns the task name, defaulting to preprocessing.
func (p *Pipeline) JobName() string {
	if p.Name != "" {
		return p.Name
	}
	return DefaultJobName
}

// Policy resolves the skip policy, falling back to def when the file names none.
func (p *Pipeline) Policy(def string) (graph.SkipPolicy, error) {
	if p.SkipPolicy != "" {
		return graph.ParseSkipPolicy(p.SkipPolicy)
	}
	return graph.ParseSkipPolicy(def)
}

// Pin validates every module strictly and records a uuid and the current
// version for modules that have none. Missing uuids are derived from the job
// name, the target path and the module's position, so pinning the same file
// twice yields the same uuids and stored provenance stays comparable.
func (p *Pipeline) Pin(reg *module.Registry) error {
	for i := range p.Modules {
		m := &p.Modules[i]
		if _, err := reg.New(m.Name, m.ParameterValues); err != nil {
			return fmt.Errorf("modules[%d]: %w", i, err)
		}
		def, _ := reg.Lookup(m.Name)
		if m.UUID == "" {
			m.UUID = module.StableUUID(p.JobName(), p.TargetPath, strconv.Itoa(i), m.Name)
		}
		if m.Version == 0 {
			m.Version = def.Version
		}
	}
	return nil
}

// Instances rebuilds the module instances leniently, keeping stored uuids.
func (p *Pipeline) Instances(reg *module.Registry) ([]*module.Instance, error) {
	out := make([]*module.Instance, 0, len(p.Modules))
	for i, m := range p.Modules {
		inst, err := reg.FromPersisted(m)
		if err != nil {
			return nil, fmt.Errorf("modules[%d]: %w", i, err)
		}
		out = append(out, inst)
	}
	return out, nil
}

// Kwargs wraps the pipeline into the job kwargs envelope.
func (p *Pipeline) Kwargs() (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	var inner map[string]any
	if err := json.Unmarshal(data, &inner); err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	return map[string]any{KwargsKey: inner}, nil
}

// FromKwargs extracts the pipeline stored in job kwargs.
func FromKwargs(kwargs map[string]any) (*Pipeline, error) {
	inner, ok := kwargs[KwargsKey]
	if !ok {
		return nil, fmt.Errorf("job kwargs have no %q entry", KwargsKey)
	}
	data, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("decode pipeline kwargs: %w", err)
	}
	var p Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pipeline kwargs: %w", err)
	}
	return &p, nil
}
