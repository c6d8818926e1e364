package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voxelpipe/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the server and scheduler are running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Server:     running (pid %d)\n", resp.PID)
				fmt.Fprintf(out, "Database:   %s\n", resp.DatabasePath)
				if !resp.Scheduler {
					fmt.Fprintln(out, "Scheduler:  not running in this server")
					return nil
				}
				fmt.Fprintln(out, "Scheduler:  running")
				active := resp.ActiveJob
				if active == "" {
					active = "-"
				}
				fmt.Fprintf(out, "Active job: %s\n", active)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}
