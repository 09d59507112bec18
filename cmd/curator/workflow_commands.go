package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/api"
	"curator/internal/services"
	"curator/internal/workflows"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Manage workflow definitions",
	}

	workflowCmd.AddCommand(newWorkflowApplyCommand(ctx))
	workflowCmd.AddCommand(newWorkflowListCommand(ctx))
	workflowCmd.AddCommand(newWorkflowShowCommand(ctx))
	workflowCmd.AddCommand(newWorkflowDeleteCommand(ctx))

	return workflowCmd
}

func newWorkflowApplyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file.yaml>",
		Short: "Create or update workflow definitions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := workflows.LoadDefinitionFile(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				out := cmd.OutOrStdout()
				for _, def := range defs {
					dto := api.FromWorkflow(def)
					_, err := client.CreateWorkflow(cmd.Context(), dto)
					switch {
					case err == nil:
						fmt.Fprintf(out, "created %s/%s\n", def.Owner, def.Name)
					case errors.Is(err, services.ErrWorkflowAlreadyExists):
						if _, err := client.UpdateWorkflow(cmd.Context(), dto); err != nil {
							return fmt.Errorf("update %s/%s: %w", def.Owner, def.Name, err)
						}
						fmt.Fprintf(out, "updated %s/%s\n", def.Owner, def.Name)
					default:
						return fmt.Errorf("create %s/%s: %w", def.Owner, def.Name, err)
					}
				}
				return nil
			})
		},
	}
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	var owner, prefix string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List workflow definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				items, err := client.Workflows(cmd.Context(), owner, prefix)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No workflows")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, wf := range items {
					kinds := make([]string, 0, len(wf.Steps))
					for _, step := range wf.Steps {
						kinds = append(kinds, step.Kind)
					}
					rows = append(rows, []string{wf.Owner, wf.Name, strconv.Itoa(len(wf.Steps)), strings.Join(kinds, " → "), wf.UpdatedAt})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Owner", "Name", "Steps", "Order", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Only definitions of this owner")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only names starting with this prefix")
	return cmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <owner>/<name>",
		Short: "Print a workflow definition as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, name, err := splitWorkflowRef(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				wf, err := client.Workflow(cmd.Context(), owner, name)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, wf)
				}
				def, err := api.ToWorkflow(wf)
				if err != nil {
					return err
				}
				raw, err := workflows.MarshalDefinition(def)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(raw)
				return err
			})
		},
	}
}

func newWorkflowDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <owner>/<name>",
		Aliases: []string{"rm"},
		Short:   "Delete a workflow definition",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, name, err := splitWorkflowRef(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				if err := client.DeleteWorkflow(cmd.Context(), owner, name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", owner, name)
				return nil
			})
		},
	}
}
