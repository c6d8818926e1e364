package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"voxelpipe/internal/ipc"
	"voxelpipe/internal/jobs"
	"voxelpipe/internal/modules/builtin"
	"voxelpipe/internal/pipelinedef"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Request, inspect and kill jobs",
	}
	jobCmd.AddCommand(newJobRequestCommand(ctx))
	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobKillCommand(ctx))
	jobCmd.AddCommand(newJobReleaseCommand(ctx))
	jobCmd.AddCommand(newJobDeleteCommand(ctx))
	jobCmd.AddCommand(newJobObjectsCommand(ctx))
	return jobCmd
}

func newJobRequestCommand(ctx *commandContext) *cobra.Command {
	var name, sourceUUID, target string
	var asJSON, hold bool
	cmd := &cobra.Command{
		Use:   "request <pipeline.yaml>",
		Short: "Queue a pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipelinedef.Load(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := overrideTarget(cfg, p, target); err != nil {
				return err
			}
			if err := p.Pin(builtin.NewRegistry()); err != nil {
				return err
			}
			kwargs, err := p.Kwargs()
			if err != nil {
				return err
			}
			if strings.TrimSpace(name) == "" {
				name = p.JobName()
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Request(ipc.RequestJobRequest{Name: name, Kwargs: kwargs, SourceUUID: sourceUUID, Hold: hold})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Job)
				}
				verb := "Requested"
				if hold {
					verb = "Holding"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s job %s\n", verb, resp.Job.Name, resp.Job.UUID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Job name (defaults to the pipeline name or preprocessing)")
	cmd.Flags().StringVar(&sourceUUID, "source-uuid", "", "Identifier of the entity the job belongs to")
	cmd.Flags().BoolVar(&hold, "hold", false, "Store the job without queueing it until it is released")
	cmd.Flags().StringVar(&target, "target", "", "Override target_path; absolute paths must lie inside the data dir")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	return cmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.List(statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Jobs)
				}
				out := cmd.OutOrStdout()
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(resp.Jobs))
				for _, job := range resp.Jobs {
					rows = append(rows, []string{
						job.UUID,
						job.Name,
						formatStatus(job.Status, colorize),
						progressTitle(job.Progress),
						relativeTime(job.CreatedAt),
						relativeTime(job.UpdatedAt),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"UUID", "NAME", "STATUS", "PROGRESS", "CREATED", "UPDATED"}, rows, nil))
				return nil
			})
		},
	}
	names := make([]string, 0, len(jobs.AllStatuses()))
	for _, status := range jobs.AllStatuses() {
		names = append(names, string(status))
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only list jobs with these statuses ("+strings.Join(names, ", ")+")")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print jobs as JSON")
	return cmd
}

func progressTitle(progress map[string]any) string {
	title, _ := progress["title"].(string)
	if title == "" {
		return "-"
	}
	return title
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <uuid>",
		Short: "Show a job with its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Show(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				renderJobDetails(cmd, resp)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	return cmd
}

func renderJobDetails(cmd *cobra.Command, resp *ipc.ShowResponse) {
	out := cmd.OutOrStdout()
	job := resp.Job
	colorize := shouldColorize(out)
	fmt.Fprintf(out, "Job:      %s\n", job.UUID)
	fmt.Fprintf(out, "Name:     %s\n", job.Name)
	fmt.Fprintf(out, "Status:   %s\n", formatStatus(job.Status, colorize))
	if job.SourceUUID != "" {
		fmt.Fprintf(out, "Source:   %s\n", job.SourceUUID)
	}
	if job.PID > 0 {
		fmt.Fprintf(out, "PID:      %d\n", job.PID)
	}
	fmt.Fprintf(out, "Progress: %s\n", progressTitle(job.Progress))
	fmt.Fprintf(out, "Created:  %s (%s)\n", job.CreatedAt.Local().Format("2006-01-02 15:04:05"), relativeTime(job.CreatedAt))

	if len(job.SourceObjectCounts) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderCounts("SOURCE MODULE", job.SourceObjectCounts, resp.Counts.Sources))
	}

	if len(resp.Events) == 0 {
		return
	}
	rows := make([][]string, 0, len(resp.Events))
	for _, ev := range resp.Events {
		detail := ev.Text
		if runtime, ok := ev.Data["runtime"].(float64); ok {
			detail = strings.TrimSpace(detail + " after " + formatRuntime(runtime))
		}
		if code, ok := ev.Data["return_code"].(float64); ok {
			detail = strings.TrimSpace(fmt.Sprintf("%s (return code %d)", detail, int(code)))
		}
		if report, ok := ev.Data["report"].(map[string]any); ok {
			detail = fmt.Sprintf("shard %v: %v sources, %v targets, %v skipped",
				ev.Data["sub_process"], report["source_objects"], report["target_objects"], report["skipped_objects"])
		}
		rows = append(rows, []string{ev.CreatedAt.Local().Format("15:04:05"), string(ev.Type), detail})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]string{"TIME", "EVENT", "DETAIL"}, rows, nil))
}

// renderCounts shows the expected item count of each source module next to
// the number of distinct sources reported so far.
func renderCounts(label string, expected, reported map[string]int) string {
	keys := make([]string, 0, len(expected))
	for key := range expected {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(reported[key]), strconv.Itoa(expected[key])})
	}
	return renderTable([]string{label, "REPORTED", "EXPECTED"}, rows, []columnAlignment{alignLeft, alignRight, alignRight})
}

func newJobKillCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <uuid>",
		Short: "Terminate a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Kill(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}
}

func newJobReleaseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release <uuid>",
		Short: "Queue a held job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Release(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s\n", resp.Job.UUID)
				return nil
			})
		},
	}
}

func newJobDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uuid>",
		Short: "Delete a held or finished job with its events and objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Delete(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", args[0])
				return nil
			})
		},
	}
}

func newJobObjectsCommand(ctx *commandContext) *cobra.Command {
	var req ipc.ObjectsRequest
	var skipped, processed, asJSON bool
	cmd := &cobra.Command{
		Use:   "objects <uuid>",
		Short: "List the objects a job produced or skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if skipped && processed {
				return fmt.Errorf("--skipped and --processed are mutually exclusive")
			}
			req.UUID = args[0]
			if skipped || processed {
				req.Skipped = &skipped
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Objects(req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				renderObjects(cmd, resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.SourceFilename, "source", "", "Only objects from this source filename")
	cmd.Flags().StringVar(&req.TargetFilename, "target", "", "Only objects stored at this target filename")
	cmd.Flags().BoolVar(&skipped, "skipped", false, "Only skipped objects")
	cmd.Flags().BoolVar(&processed, "processed", false, "Only processed objects")
	cmd.Flags().BoolVar(&req.CountsOnly, "counts", false, "Only print per-module counts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print objects as JSON")
	return cmd
}

func renderObjects(cmd *cobra.Command, resp *ipc.ObjectsResponse) {
	out := cmd.OutOrStdout()
	if len(resp.Objects) > 0 {
		rows := make([][]string, 0, len(resp.Objects))
		for _, rec := range resp.Objects {
			state := "processed"
			if rec.Skipped {
				state = "skipped"
			}
			target := rec.TargetFilename
			if target == "" {
				target = "-"
			}
			rows = append(rows, []string{rec.SourceFilename, target, string(rec.DataType), state})
		}
		fmt.Fprintln(out, renderTable([]string{"SOURCE", "TARGET", "TYPE", "STATE"}, rows, nil))
	}
	rows := make([][]string, 0)
	for _, group := range []struct {
		kind   string
		counts map[string]int
	}{{"source", resp.Counts.Sources}, {"target", resp.Counts.Targets}} {
		keys := make([]string, 0, len(group.counts))
		for key := range group.counts {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			rows = append(rows, []string{group.kind, key, strconv.Itoa(group.counts[key])})
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No objects")
		return
	}
	fmt.Fprintln(out, renderTable([]string{"KIND", "MODULE", "FILES"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
}

