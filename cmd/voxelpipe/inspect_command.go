package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"voxelpipe/internal/nifti"
	"voxelpipe/internal/object"
)

type inspectResult struct {
	Path       string             `json:"path"`
	Class      string             `json:"object_class"`
	Size       int                `json:"size"`
	Dims       []int              `json:"dims,omitempty"`
	PixDim     []float64          `json:"pixdim,omitempty"`
	DataType   string             `json:"datatype,omitempty"`
	Descriptor *object.Descriptor `json:"descriptor,omitempty"`
}

func newInspectCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <data path>",
		Short: "Describe a file below the data dir, including archive members and stored results",
		Long: "Paths are relative to the data dir; absolute paths must lie inside it.\n" +
			"A path through an archive such as scans/batch.tar/a.nii reads that member.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rel := args[0]
			if filepath.IsAbs(rel) {
				if rel, err = cfg.RelativeToDataPath(rel); err != nil {
					return err
				}
			}
			f, err := object.Open(cfg.Paths.DataDir, rel)
			if err != nil {
				return err
			}
			raw, err := f.RawBytes()
			if err != nil {
				return err
			}
			result := inspectResult{Path: filepath.ToSlash(rel), Class: f.Class(), Size: len(raw)}
			if f.IsImage() {
				vol, err := nifti.DecodeFile(f.Filename(), raw)
				if err != nil {
					return err
				}
				result.Dims, result.PixDim, result.DataType = vol.Dims, vol.PixDim, vol.DataType.String()
			}
			if abs, ok := f.DiskPath(); ok {
				sidecar := abs + "." + cfg.Pipeline.SidecarExtension + ".json"
				data, err := os.ReadFile(sidecar)
				switch {
				case err == nil:
					var d object.Descriptor
					if err := json.Unmarshal(data, &d); err != nil {
						return fmt.Errorf("decode %s: %w", sidecar, err)
					}
					result.Descriptor = &d
				case !errors.Is(err, os.ErrNotExist):
					return err
				}
			}

			if asJSON {
				return writeJSON(cmd, result)
			}
			renderInspect(cmd, result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the description as JSON")
	return cmd
}

func renderInspect(cmd *cobra.Command, r inspectResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Path:     %s\n", r.Path)
	fmt.Fprintf(out, "Class:    %s\n", r.Class)
	fmt.Fprintf(out, "Size:     %s\n", humanize.IBytes(uint64(r.Size)))
	if len(r.Dims) > 0 {
		dims := make([]string, len(r.Dims))
		for i, d := range r.Dims {
			dims[i] = fmt.Sprint(d)
		}
		fmt.Fprintf(out, "Shape:    %s (%s)\n", strings.Join(dims, "x"), r.DataType)
	}
	if r.Descriptor == nil {
		return
	}
	fmt.Fprintf(out, "Source:   %s\n", r.Descriptor.SourceFilename())
	rows := make([][]string, 0, len(r.Descriptor.Actions))
	for i, a := range r.Descriptor.Actions {
		module, _ := a.Module["name"].(string)
		rows = append(rows, []string{fmt.Sprint(i + 1), a.Name, module})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]string{"#", "ACTION", "MODULE"}, rows, []columnAlignment{alignRight}))
}
