package main

import (
	"errors"
	"fmt"

	"stratus/cmd/stratus/cmdutil"
	"stratus/cmd/stratus/ui"
	"stratus/internal/apply"
	"stratus/internal/plan"
	"stratus/internal/preflight"
	"stratus/internal/telemetry"

	"github.com/spf13/cobra"
)

func applyCmd(opts *cmdutil.Options) *cobra.Command {
	var autoApprove, skipPreflight bool

	cmd := &cobra.Command{
		Use:   "apply <manifest.yaml>",
		Short: "Create, update or delete resources to match a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, err := loadManifest(args[0], opts)
			if err != nil {
				return err
			}

			env, err := cmdutil.Open(*opts)
			if err != nil {
				return err
			}
			defer env.Close()

			if !skipPreflight {
				if err := runPreflight(cmd, env); err != nil {
					return err
				}
			}

			rows, err := env.Store.ListResources(ctx)
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

			if !autoApprove {
				confirmed, err := ui.Confirm("Apply these changes?", "use --auto-approve")
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Println(ui.InfoMsg("Apply cancelled."))
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
			result, err := exec.Apply(ctx, m, p)
			stop()
			if err != nil {
				var applyErr *apply.ApplyError
				if errors.As(err, &applyErr) && applyErr.Address != "" {
					fmt.Println(ui.HintMsg(fmt.Sprintf("inspect the failed resource with: stratus state show %s", applyErr.Address)))
				}
				return err
			}

			renderResult(result)
			fmt.Println(ui.SuccessMsg("Applied %s (run %s).", ui.Bold(m.Name), result.RunID))
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Apply without interactive confirmation")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip clock and driver preflight checks")
	return cmd
}

// runPreflight aborts the command when a preflight check fails. Results
// are only printed on failure; a healthy environment stays quiet.
func runPreflight(cmd *cobra.Command, env *cmdutil.Env) error {
	checker := &preflight.Checker{Driver: env.Driver}
	results := checker.Run(cmd.Context())
	if preflight.Healthy(results) {
		return nil
	}
	for _, r := range results {
		if r.OK {
			continue
		}
		fmt.Println(ui.ErrorMsg("%s: %s", r.Name, r.Detail))
	}
	return fmt.Errorf("preflight checks failed (see stratus doctor)")
}
