package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"curator/internal/api"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring workflow triggers",
	}

	scheduleCmd.AddCommand(newScheduleSetCommand(ctx, false))
	scheduleCmd.AddCommand(newScheduleSetCommand(ctx, true))
	scheduleCmd.AddCommand(newScheduleShowCommand(ctx))
	scheduleCmd.AddCommand(newScheduleListCommand(ctx))
	scheduleCmd.AddCommand(newScheduleDeleteCommand(ctx))

	return scheduleCmd
}

func newScheduleSetCommand(ctx *commandContext, update bool) *cobra.Command {
	var (
		start     string
		frequency string
		priority  int
	)

	use, short := "set", "Schedule a workflow for a dataset"
	if update {
		use, short = "update", "Replace the schedule of a dataset"
	}

	cmd := &cobra.Command{
		Use:   use + " <dataset> <owner>/<workflow>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, name, err := splitWorkflowRef(args[1])
			if err != nil {
				return err
			}
			req := api.Schedule{
				DatasetID:    args[0],
				Owner:        owner,
				WorkflowName: name,
				PointerDate:  start,
				Frequency:    frequency,
				Priority:     priority,
			}
			return ctx.withClient(func(client *api.Client) error {
				var (
					sched api.Schedule
					err   error
				)
				if update {
					sched, err = client.UpdateSchedule(cmd.Context(), req)
				} else {
					sched, err = client.CreateSchedule(cmd.Context(), req)
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, sched)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s on %s next at %s\n",
					sched.Frequency, sched.Owner, sched.WorkflowName, sched.DatasetID, sched.PointerDate)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First run, RFC3339 or YYYY-MM-DD (required)")
	cmd.Flags().StringVarP(&frequency, "frequency", "f", "", "ONCE, DAILY, WEEKLY or MONTHLY (required)")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Priority of the submitted executions")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("frequency")
	return cmd
}

func newScheduleShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <dataset>",
		Short: "Show the schedule of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				sched, err := client.Schedule(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, sched)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderScheduleTable([]api.Schedule{sched}))
				return nil
			})
		},
	}
}

func newScheduleListCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List schedules ordered by next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				items, err := client.Schedules(cmd.Context(), all)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No schedules")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderScheduleTable(items))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include spent one-shot schedules")
	return cmd
}

func newScheduleDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <dataset>",
		Aliases: []string{"rm"},
		Short:   "Remove the schedule of a dataset",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if err := client.DeleteSchedule(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted schedule for %s\n", args[0])
				return nil
			})
		},
	}
}

func renderScheduleTable(items []api.Schedule) string {
	rows := make([][]string, 0, len(items))
	for _, s := range items {
		rows = append(rows, []string{
			s.DatasetID,
			s.Owner + "/" + s.WorkflowName,
			s.Frequency,
			s.PointerDate,
			strconv.Itoa(s.Priority),
			yesNo(s.Active),
			s.LastExecutionID,
		})
	}
	return renderTable(
		[]string{"Dataset", "Workflow", "Frequency", "Next run", "Priority", "Active", "Last execution"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}
