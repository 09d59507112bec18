package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, scheduler and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				renderStatus(out, status, shouldColorize(out))
				return nil
			})
		},
	}
}

func renderStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	sched := status.Scheduler
	lines := []string{renderSectionHeader("Daemon", colorize)}
	if status.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, "running (pid "+strconv.Itoa(status.PID)+")", colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusError, "stopped", colorize))
	}
	lines = append(lines,
		renderStatusLine("Database", statusInfo, status.DatabasePath, colorize),
		renderStatusLine("Events", statusInfo, status.EventsTarget, colorize),
		"",
		renderSectionHeader("Scheduler", colorize),
	)

	consumer := renderStatusLine("Consumer", statusOK, fmt.Sprintf("%d workers", sched.Workers), colorize)
	if !sched.ConsumerRunning {
		consumer = renderStatusLine("Consumer", statusWarn, "not running; reconcile restarts it", colorize)
	}
	lines = append(lines,
		consumer,
		renderStatusLine("Queue", statusInfo, fmt.Sprintf("%d waiting, %d in flight", sched.QueueDepth, len(sched.InFlight)), colorize),
		renderStatusLine("Executions", statusInfo, formatCounts(sched.Counts, sched.Cancelling), colorize),
		renderStatusLine("Schedules", statusInfo, fmt.Sprintf("%d active, last sweep %s", sched.ActiveTriggers, orDash(sched.LastSweep)), colorize),
	)
	if sched.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusWarn, sched.LastError, colorize))
	}

	if len(status.Checks) > 0 {
		lines = append(lines, "", renderSectionHeader("Checks", colorize))
		for _, check := range status.Checks {
			kind := statusOK
			if !check.Passed {
				kind = statusError
				if check.Optional {
					kind = statusWarn
				}
			}
			lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
	}

	var down []string
	for _, step := range status.Steps {
		if !step.Ready {
			down = append(down, step.Kind)
		}
	}
	if len(status.Steps) > 0 {
		kind, msg := statusOK, fmt.Sprintf("%d handlers ready", len(status.Steps))
		if len(down) > 0 {
			kind, msg = statusWarn, "unavailable: "+strings.Join(down, ", ")
		}
		lines = append(lines, renderStatusLine("Step handlers", kind, msg, colorize))
	}

	fmt.Fprintln(out, strings.Join(lines, "\n"))
}

func formatCounts(counts map[string]int, cancelling int) string {
	parts := make([]string, 0, 5)
	for _, status := range []string{"INQUEUE", "RUNNING", "FINISHED", "CANCELLED"} {
		parts = append(parts, fmt.Sprintf("%s %d", strings.ToLower(status), counts[status]))
	}
	if cancelling > 0 {
		parts = append(parts, fmt.Sprintf("cancelling %d", cancelling))
	}
	return strings.Join(parts, ", ")
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
