package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/logs"
)

const followWait = 30 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		filter logs.Filter
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log, optionally filtered by execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tailer := logs.NewTailer(cfg.LogFilePath(), nil)
			return streamLogs(cmd.Context(), cmd.OutOrStdout(), tailer, lines, follow, filter, ctx.jsonOutput())
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to read before filtering")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new records until interrupted")
	cmd.Flags().StringVarP(&filter.ExecutionID, "execution", "e", "", "Only records for this execution")
	cmd.Flags().StringVarP(&filter.DatasetID, "dataset", "d", "", "Only records for this dataset")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}

func streamLogs(ctx context.Context, out io.Writer, tailer *logs.Tailer, lines int, follow bool, filter logs.Filter, raw bool) error {
	opts := logs.TailOptions{Offset: -1, Limit: lines}
	for {
		result, err := tailer.Tail(ctx, opts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		for _, line := range result.Lines {
			entry := logs.ParseEntry(line)
			if !filter.Match(entry) {
				continue
			}
			if raw {
				fmt.Fprintln(out, line)
			} else {
				fmt.Fprintln(out, entry.Format())
			}
		}
		if !follow {
			return nil
		}
		opts = logs.TailOptions{Offset: result.Offset, Follow: true, Wait: followWait}
	}
}
