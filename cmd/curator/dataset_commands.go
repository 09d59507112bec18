package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"curator/internal/api"
)

func newDatasetCommand(ctx *commandContext) *cobra.Command {
	datasetCmd := &cobra.Command{
		Use:   "dataset",
		Short: "Maintain the dataset registry",
	}

	var name string
	register := &cobra.Command{
		Use:   "register <dataset>",
		Short: "Register a dataset so workflows can run against it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if err := client.RegisterDataset(cmd.Context(), args[0], name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered dataset %s\n", args[0])
				return nil
			})
		},
	}
	register.Flags().StringVar(&name, "name", "", "Display name")

	remove := &cobra.Command{
		Use:     "delete <dataset>",
		Aliases: []string{"rm"},
		Short:   "Remove a dataset from the registry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if err := client.DeleteDataset(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted dataset %s\n", args[0])
				return nil
			})
		},
	}

	datasetCmd.AddCommand(register, remove)
	return datasetCmd
}
