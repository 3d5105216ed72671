package main

import (
	"fmt"

	"stratus/cmd/stratus/cmdutil"
	"stratus/cmd/stratus/ui"
	"stratus/internal/plan"

	"github.com/spf13/cobra"
)

func planCmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <manifest.yaml>",
		Short: "Show what apply would change without changing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest(args[0], opts)
			if err != nil {
				return err
			}

			env, err := cmdutil.Open(*opts)
			if err != nil {
				return err
			}
			defer env.Close()

			rows, err := env.Store.ListResources(cmd.Context())
			if err != nil {
				return err
			}

			p, err := plan.Build(m, rows)
			if err != nil {
				return err
			}

			if !p.HasChanges() {
				fmt.Println(ui.SuccessMsg("No changes. %s matches the recorded state.", ui.Bold(m.Name)))
				return nil
			}
			fmt.Print(renderPlan(p))
			return nil
		},
	}
}
