package main

import (
	"fmt"

	"stratus/cmd/stratus/cmdutil"
	"stratus/cmd/stratus/ui"
	"stratus/internal/preflight"

	"github.com/spf13/cobra"
)

func doctorCmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check clock skew and driver connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Open(*opts)
			if err != nil {
				return err
			}
			defer env.Close()

			fmt.Print(ui.KeyValues("",
				ui.KV("context", env.ContextName),
				ui.KV("driver", env.Context.DriverName()),
				ui.KV("state", env.Context.StateFile(env.ContextName)),
			))

			checker := &preflight.Checker{Driver: env.Driver}
			results := checker.Run(cmd.Context())
			for _, r := range results {
				if r.OK {
					fmt.Println(ui.SuccessMsg("%s: %s", r.Name, r.Detail))
				} else {
					fmt.Println(ui.ErrorMsg("%s: %s", r.Name, r.Detail))
				}
			}

			if !preflight.Healthy(results) {
				return fmt.Errorf("environment is not healthy")
			}
			return nil
		},
	}
}
