package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"voxelpipe/internal/config"
	"voxelpipe/internal/graph"
	"voxelpipe/internal/logging"
	"voxelpipe/internal/modules/builtin"
	"voxelpipe/internal/object"
	"voxelpipe/internal/pipelinedef"
)

func newPipelineCommand(ctx *commandContext) *cobra.Command {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Validate and run pipeline definitions locally",
	}
	pipelineCmd.AddCommand(newPipelineValidateCommand())
	pipelineCmd.AddCommand(newPipelineRunCommand(ctx))
	return pipelineCmd
}

func newPipelineValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "validate <pipeline.yaml>",
		Short:       "Check a pipeline definition against the available modules",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipelinedef.Load(args[0])
			if err != nil {
				return err
			}
			reg := builtin.NewRegistry()
			if err := p.Pin(reg); err != nil {
				return err
			}
			instances, err := p.Instances(reg)
			if err != nil {
				return err
			}
			g, err := graph.New(instances, graph.Options{TargetPath: p.TargetPath, Logger: logging.NewNop()})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pipeline %s is valid: %d sources, %d filters, %d processes\n",
				p.JobName(), len(g.Sources()), len(g.Filters()), len(g.Processes()))
			return nil
		},
	}
}

type pipelineRunResult struct {
	Report  graph.Report `json:"report"`
	Targets []string     `json:"targets"`
}

func newPipelineRunCommand(ctx *commandContext) *cobra.Command {
	var stub, asJSON bool
	var target string
	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Run a pipeline in this process without queueing a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			p, err := pipelinedef.Load(args[0])
			if err != nil {
				return err
			}
			if err := overrideTarget(cfg, p, target); err != nil {
				return err
			}
			reg := builtin.NewRegistry()
			if err := p.Pin(reg); err != nil {
				return err
			}
			instances, err := p.Instances(reg)
			if err != nil {
				return err
			}
			policy, err := p.Policy(cfg.Pipeline.DefaultSkipPolicy)
			if err != nil {
				return err
			}
			g, err := graph.New(instances, graph.Options{
				DataDir:    cfg.Paths.DataDir,
				TargetPath: p.TargetPath,
				SkipPolicy: policy,
				SidecarExt: cfg.Pipeline.SidecarExtension,
				Logger:     logging.NewComponentLogger(logger, "pipeline"),
			})
			if err != nil {
				return err
			}

			runCtx := cmd.Context()
			if err := g.PrepareModules(runCtx); err != nil {
				return err
			}
			var result pipelineRunResult
			emit := func(obj object.Object) error {
				d := obj.Descriptor()
				target := d.StoredFilename()
				if target == "" {
					target = obj.Filename()
				}
				result.Targets = append(result.Targets, target)
				obj.Discard()
				return nil
			}
			ro := graph.RunOptions{SourceTypes: []object.DataType{object.TypeImage}}
			if stub {
				err = g.ProcessStub(runCtx, ro, emit)
			} else {
				err = g.Process(runCtx, ro, emit)
			}
			if err != nil {
				return err
			}
			result.Report = g.Report()

			if asJSON {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			if len(result.Targets) > 0 {
				rows := make([][]string, 0, len(result.Targets))
				for _, name := range result.Targets {
					rows = append(rows, []string{cfg.JoinDataPath(name)})
				}
				fmt.Fprintln(out, renderTable([]string{"TARGET"}, rows, nil))
			}
			fmt.Fprintln(out, renderTable(
				[]string{"SOURCES", "TARGETS", "SKIPPED"},
				[][]string{{
					strconv.Itoa(result.Report.SourceObjects),
					strconv.Itoa(result.Report.TargetObjects),
					strconv.Itoa(result.Report.SkippedObjects),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&stub, "stub", false, "Run on placeholder volumes and write nothing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run report as JSON")
	cmd.Flags().StringVar(&target, "target", "", "Override target_path; absolute paths must lie inside the data dir")
	return cmd
}

// overrideTarget replaces the pipeline's target path. Absolute paths are
// converted to their data-relative form.
func overrideTarget(cfg *config.Config, p *pipelinedef.Pipeline, target string) error {
	if target == "" {
		return nil
	}
	if filepath.IsAbs(target) {
		rel, err := cfg.RelativeToDataPath(target)
		if err != nil {
			return err
		}
		target = rel
	}
	p.TargetPath = filepath.ToSlash(target)
	return nil
}
