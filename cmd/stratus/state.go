package main

import (
	"errors"
	"fmt"

	"stratus/cmd/stratus/cmdutil"
	"stratus/cmd/stratus/ui"
	"stratus/internal/state"

	"github.com/spf13/cobra"
)

func stateCmd(opts *cmdutil.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and repair the recorded resource state",
	}

	cmd.AddCommand(stateListCmd(opts))
	cmd.AddCommand(stateShowCmd(opts))
	cmd.AddCommand(stateRemoveCmd(opts))
	cmd.AddCommand(stateRunsCmd(opts))
	return cmd
}

func stateListCmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Open(*opts)
			if err != nil {
				return err
			}
			defer env.Close()

			rows, err := env.Store.ListResources(cmd.Context())
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println(ui.InfoMsg("State is empty."))
				return nil
			}

			var table [][]string
			for _, row := range rows {
				table = append(table, []string{row.Address, row.Status, row.ProviderID, row.UpdatedAt})
			}
			fmt.Println(ui.Table([]string{"ADDRESS", "STATUS", "PROVIDER ID", "UPDATED"}, table))
			return nil
		},
	}
}

func stateShowCmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <kind/name>",
		Short: "Show one recorded resource, including its stored spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := cmdutil.Open(*opts)
			if err != nil {
				return err
			}
			defer env.Close()

			row, err := env.Store.GetResource(cmd.Context(), args[0])
			if errors.Is(err, state.ErrNotFound) {
				return fmt.Errorf("no recorded resource %q", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Print(ui.KeyValues("",
				ui.KV("address", row.Address),
				ui.KV("status", row.Status),
				ui.KV("provider id", row.ProviderID),
				ui.KV("created", row.CreatedAt),
				ui.KV("updated", row.UpdatedAt),
			))
			fmt.Println(ui.Muted("spec:"))
			fmt.Println(row.SpecJSON)
			return nil
		},
	}
}

func stateRemoveCmd(opts *cmdutil.Options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "rm <kind/name>",
		Short:   "Forget a resource without deleting it from the backend",
		Aliases: []string{"remove"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := args[0]

			if !yes {
				confirmed, err := ui.Confirm(
					fmt.Sprintf("Forget %s? The next apply will recreate it.", ui.Bold(address)),
					"use --yes to skip",
				)
				if err != nil {
					return err
				}
				if !confirmed {
					return nil
				}
			}

			env, err := cmdutil.Open(*opts)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.Store.DeleteResource(cmd.Context(), address); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("Removed %s from state.", ui.Bold(address)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

func stateRunsCmd(opts *cmdutil.Options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent apply and destroy runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Open(*opts)
			if err != nil {
				return err
			}
			defer env.Close()

			runs, err := env.Store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println(ui.InfoMsg("No runs recorded."))
				return nil
			}

			var table [][]string
			for _, run := range runs {
				table = append(table, []string{run.ID, run.Op, run.Manifest, run.Phase, run.StartedAt})
			}
			fmt.Println(ui.Table([]string{"RUN", "OP", "MANIFEST", "PHASE", "STARTED"}, table))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	return cmd
}
