package pipelinedef_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelpipe/internal/graph"
	"voxelpipe/internal/module"
	"voxelpipe/internal/modules/builtin"
	"voxelpipe/internal/object"
	"voxelpipe/internal/pipelinedef"
	"voxelpipe/internal/testsupport"
)

const sample = `
target_path: out
skip_policy: unchanged
num_processes: 2
modules:
  - name: image_source_directory
    parameter_values:
      source_directory: in
      glob_pattern: "*.nii*"
  - name: image_resample
    parameter_values:
      output_percent: 25
`

func TestParseAndPin(t *testing.T) {
	p, err := pipelinedef.Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "out", p.TargetPath)
	assert.Equal(t, 2, p.NumProcesses)
	assert.Equal(t, pipelinedef.DefaultJobName, p.JobName())
	require.Len(t, p.Modules, 2)

	policy, err := p.Policy("never")
	require.NoError(t, err)
	assert.Equal(t, graph.SkipUnchanged, policy)

	reg := builtin.NewRegistry()
	require.NoError(t, p.Pin(reg))
	for _, m := range p.Modules {
		assert.True(t, strings.HasPrefix(m.UUID, module.UUIDPrefix), m.UUID)
		assert.Equal(t, 1, m.Version)
	}
}

func TestKwargsRoundTripKeepsModules(t *testing.T) {
	p, err := pipelinedef.Parse([]byte(sample))
	require.NoError(t, err)
	reg := builtin.NewRegistry()
	require.NoError(t, p.Pin(reg))

	kwargs, err := p.Kwargs()
	require.NoError(t, err)
	require.Contains(t, kwargs, pipelinedef.KwargsKey)

	back, err := pipelinedef.FromKwargs(kwargs)
	require.NoError(t, err)
	assert.Equal(t, p.TargetPath, back.TargetPath)
	assert.Equal(t, p.NumProcesses, back.NumProcesses)

	instances, err := back.Instances(reg)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, p.Modules[0].UUID, instances[0].UUID())
	assert.Equal(t, "in", instances[0].StringValue("source_directory"))
	assert.Equal(t, 25.0, instances[1].FloatValue("output_percent"))
}

func TestPinRejectsInvalidModules(t *testing.T) {
	reg := builtin.NewRegistry()

	p, err := pipelinedef.Parse([]byte("modules:\n  - name: image_unknown\n"))
	require.NoError(t, err)
	require.Error(t, p.Pin(reg))

	p, err = pipelinedef.Parse([]byte("modules:\n  - name: image_noop\n    parameter_values:\n      bogus: 1\n"))
	require.NoError(t, err)
	require.Error(t, p.Pin(reg))
}

func TestParseRejectsMalformedFiles(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"no modules":     "target_path: out\n",
		"unknown key":    "modules:\n  - name: image_noop\nbogus: true\n",
		"bad policy":     "skip_policy: sometimes\nmodules:\n  - name: image_noop\n",
		"negative procs": "num_processes: -1\nmodules:\n  - name: image_noop\n",
		"unnamed module": "modules:\n  - parameter_values: {}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := pipelinedef.Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	p, err := pipelinedef.Load(path)
	require.NoError(t, err)
	assert.Len(t, p.Modules, 2)

	_, err = pipelinedef.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFromKwargsRequiresEnvelope(t *testing.T) {
	_, err := pipelinedef.FromKwargs(map[string]any{"modules": []any{}})
	assert.Error(t, err)
}

func TestPinDerivesStableUUIDs(t *testing.T) {
	reg := builtin.NewRegistry()
	pin := func(doc string) []string {
		p, err := pipelinedef.Parse([]byte(doc))
		require.NoError(t, err)
		require.NoError(t, p.Pin(reg))
		ids := make([]string, 0, len(p.Modules))
		for _, m := range p.Modules {
			ids = append(ids, m.UUID)
		}
		return ids
	}

	first, second := pin(sample), pin(sample)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first[0], first[1])

	moved := pin(strings.Replace(sample, "target_path: out", "target_path: elsewhere", 1))
	assert.NotEqual(t, first[0], moved[0])

	explicit := pin(strings.Replace(sample, "  - name: image_resample\n", "  - name: image_resample\n    uuid: mod-fixed\n", 1))
	assert.Equal(t, "mod-fixed", explicit[1])
}

func TestRerunOfSameFileSkipsEverything(t *testing.T) {
	data := t.TempDir()
	testsupport.WriteVolume(t, filepath.Join(data, "in", "a.nii"), []int{8, 8, 8})
	testsupport.WriteVolume(t, filepath.Join(data, "in", "b.nii.gz"), []int{8, 8, 8})
	reg := builtin.NewRegistry()

	run := func() graph.Report {
		p, err := pipelinedef.Parse([]byte(sample))
		require.NoError(t, err)
		require.NoError(t, p.Pin(reg))
		instances, err := p.Instances(reg)
		require.NoError(t, err)
		policy, err := p.Policy("never")
		require.NoError(t, err)
		g, err := graph.New(instances, graph.Options{DataDir: data, TargetPath: p.TargetPath, SkipPolicy: policy})
		require.NoError(t, err)
		require.NoError(t, g.PrepareModules(context.Background()))
		err = g.Process(context.Background(), graph.RunOptions{Interval: 1}, func(obj object.Object) error {
			obj.Discard()
			return nil
		})
		require.NoError(t, err)
		return g.Report()
	}

	first := run()
	assert.Equal(t, graph.Report{SourceObjects: 2, TargetObjects: 2}, first)
	second := run()
	assert.Equal(t, graph.Report{SourceObjects: 2, TargetObjects: 0, SkippedObjects: 2}, second)
}
