package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "submit <dataset> <owner>/<workflow>",
		Short: "Queue a workflow execution for a dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, name, err := splitWorkflowRef(args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				id, err := client.Submit(cmd.Context(), api.SubmitRequest{
					DatasetID:    args[0],
					Owner:        owner,
					WorkflowName: name,
					Priority:     priority,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.SubmitResponse{ExecutionID: id})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued execution %s for dataset %s\n", id, args[0])
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Execution priority (lower values run first)")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <dataset>",
		Short: "Cancel the queued or running execution of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if err := client.Cancel(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for dataset %s\n", args[0])
				return nil
			})
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show an execution and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				exec, err := client.Execution(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, exec)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderExecution(exec))
				return nil
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		dataset  string
		statuses []string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List executions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				items, err := client.Executions(cmd.Context(), api.ExecutionQuery{
					DatasetID: dataset,
					Statuses:  statuses,
					Offset:    offset,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No executions")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderExecutionTable(items))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&dataset, "dataset", "d", "", "Only executions of this dataset")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (INQUEUE, RUNNING, FINISHED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <execution-id>...",
		Short: "Report which executions are still queued or running",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				remaining, err := client.Reconcile(cmd.Context(), args)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.ReconcileResponse{Remaining: remaining})
				}
				out := cmd.OutOrStdout()
				if len(remaining) == 0 {
					fmt.Fprintln(out, "All executions completed")
					return nil
				}
				for _, id := range remaining {
					fmt.Fprintln(out, id)
				}
				return nil
			})
		},
	}
}

func splitWorkflowRef(ref string) (string, string, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(ref), "/")
	if !ok || strings.TrimSpace(owner) == "" || strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf("workflow must be given as <owner>/<name>, got %q", ref)
	}
	return strings.TrimSpace(owner), strings.TrimSpace(name), nil
}

func renderExecutionTable(items []api.Execution) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			item.DatasetID,
			item.Owner + "/" + item.WorkflowName,
			statusLabel(item.Status, item.Cancelling),
			strconv.Itoa(item.Priority),
			currentStep(item),
			item.CreatedAt,
		})
	}
	return renderTable(
		[]string{"ID", "Dataset", "Workflow", "Status", "Priority", "Step", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func renderExecution(exec api.Execution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution:  %s\n", exec.ID)
	fmt.Fprintf(&b, "Dataset:    %s\n", exec.DatasetID)
	fmt.Fprintf(&b, "Workflow:   %s/%s\n", exec.Owner, exec.WorkflowName)
	fmt.Fprintf(&b, "Status:     %s\n", statusLabel(exec.Status, exec.Cancelling))
	fmt.Fprintf(&b, "Priority:   %d\n", exec.Priority)
	fmt.Fprintf(&b, "Created:    %s\n", exec.CreatedAt)
	if exec.StartedAt != "" {
		fmt.Fprintf(&b, "Started:    %s\n", exec.StartedAt)
	}
	if exec.FinishedAt != "" {
		fmt.Fprintf(&b, "Finished:   %s\n", exec.FinishedAt)
	}

	rows := make([][]string, 0, len(exec.Steps))
	for i, step := range exec.Steps {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			step.Kind,
			step.Status,
			strconv.Itoa(step.RecordsProcessed),
			strconv.Itoa(step.RecordsCreated),
			strconv.Itoa(step.RecordsUpdated),
			strconv.Itoa(step.RecordsDeleted),
			strconv.Itoa(step.RecordsFailed),
			step.ErrorMessage,
		})
	}
	b.WriteString(renderTable(
		[]string{"#", "Step", "Status", "Processed", "Created", "Updated", "Deleted", "Failed", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
	return b.String()
}

func statusLabel(status string, cancelling bool) string {
	if cancelling {
		return status + " (cancelling)"
	}
	return status
}

// currentStep names the running step, or the last one that did any work.
func currentStep(exec api.Execution) string {
	last := ""
	for _, step := range exec.Steps {
		switch step.Status {
		case "RUNNING":
			return step.Kind
		case "FINISHED", "FAILED":
			last = step.Kind
		}
	}
	return last
}
