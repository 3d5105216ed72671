package main

import (
	"fmt"

	"stratus/cmd/stratus/cmdutil"
	"stratus/cmd/stratus/ui"
	"stratus/internal/verify"

	"github.com/spf13/cobra"
)

func checkCmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "check <manifest.yaml>",
		Short: "Probe applied machines: SSH and web reachability, diagnostics",
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

			verifier := &verify.Verifier{Driver: env.Driver}
			results := verifier.Run(cmd.Context(), m)
			if len(results) == 0 {
				fmt.Println(ui.InfoMsg("Nothing to probe; no machines with public addresses."))
				return nil
			}

			failed := 0
			for _, r := range results {
				if r.OK {
					fmt.Println(ui.SuccessMsg("%s %s: %s", r.Name, ui.Bold(r.Target), r.Detail))
					continue
				}
				failed++
				fmt.Println(ui.ErrorMsg("%s %s: %s", r.Name, ui.Bold(r.Target), r.Detail))
				if r.Hint != "" {
					fmt.Println(ui.HintMsg(r.Hint))
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d probes failed", failed, len(results))
			}
			fmt.Println(ui.SuccessMsg("All %d probes passed.", len(results)))
			return nil
		},
	}
}
