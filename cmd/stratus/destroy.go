package main

import (
	"fmt"

	"stratus/cmd/stratus/cmdutil"
	"stratus/cmd/stratus/ui"
	"stratus/internal/apply"
	"stratus/internal/plan"
	"stratus/internal/telemetry"

	"github.com/spf13/cobra"
)

func destroyCmd(opts *cmdutil.Options) *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "destroy <manifest-name>",
		Short: "Delete every recorded resource, children before parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			env, err := cmdutil.Open(*opts)
			if err != nil {
				return err
			}
			defer env.Close()

			rows, err := env.Store.ListResources(ctx)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println(ui.InfoMsg("Nothing to destroy; state is empty."))
				return nil
			}

			p := plan.BuildDestroy(name, rows)
			fmt.Print(renderPlan(p))

			if !autoApprove {
				confirmed, err := ui.Confirm(
					fmt.Sprintf("Destroy all %d resources?", len(rows)),
					"use --auto-approve",
				)
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Println(ui.InfoMsg("Destroy cancelled."))
					return nil
				}
			}

			shutdown := telemetry.Setup(ctx)
			defer func() { _ = shutdown(ctx) }()

			events := make(chan apply.ProgressEvent, 64)
			stop := watchProgress(events)

			exec := &apply.Executor{
				Driver: env.Driver,
				Store:  env.Store,
				Events: events,
			}
			result, err := exec.Destroy(ctx, p)
			stop()
			if err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("Destroyed %s (run %s).", ui.Bold(name), result.RunID))
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Destroy without interactive confirmation")
	return cmd
}
