package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"voxelpipe/internal/module"
	"voxelpipe/internal/modules/builtin"
	"voxelpipe/internal/object"
)

func newModulesCommand() *cobra.Command {
	var group string
	var asJSON bool
	cmd := &cobra.Command{
		Use:         "modules",
		Short:       "List the available pipeline modules",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := strings.Trim(strings.TrimSpace(group), "/")
			var list []module.Descriptor
			for _, desc := range builtin.NewRegistry().List() {
				path := strings.Join(desc.Group, "/")
				if prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/") {
					list = append(list, desc)
				}
			}
			if asJSON {
				return writeJSON(cmd, list)
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No modules")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, desc := range list {
				params := make([]string, 0, len(desc.Parameters))
				for _, p := range desc.Parameters {
					name := p.Name
					if p.Required {
						name += "*"
					}
					params = append(params, name)
				}
				rows = append(rows, []string{
					desc.Name,
					strings.Join(desc.Group, "/"),
					strconv.Itoa(desc.Version),
					joinTypes(desc.InputTypes),
					joinTypes(desc.OutputTypes),
					strings.Join(params, ", "),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"NAME", "GROUP", "VERSION", "INPUT", "OUTPUT", "PARAMETERS"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "Only list modules below this group path, e.g. process/image")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print module descriptors as JSON")
	return cmd
}

func joinTypes(types []object.DataType) string {
	if len(types) == 0 {
		return "-"
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
