package main

import (
	"fmt"
	"os"

	"stratus/cmd/stratus/cmdutil"
	contextcmd "stratus/cmd/stratus/context"
	"stratus/cmd/stratus/ui"
	"stratus/internal/logging"

	_ "stratus/internal/driver/azcli"
	_ "stratus/internal/driver/dockersim"
	_ "stratus/internal/driver/memory"

	"github.com/spf13/cobra"
)

func main() {
	var (
		debug bool
		opts  cmdutil.Options
	)
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "stratus",
		Short:         "Declarative lab environments on Azure",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureInteraction()
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	// Environment selection flags — available to all subcommands.
	root.PersistentFlags().StringVar(&opts.ContextName, "context", "", "Context name to use")
	root.PersistentFlags().StringVar(&opts.Driver, "driver", "", "Override the context driver (azcli, dockersim, memory)")
	root.PersistentFlags().StringVar(&opts.StatePath, "state", "", "Override the state database path")

	root.AddCommand(validateCmd())
	root.AddCommand(planCmd(&opts))
	root.AddCommand(applyCmd(&opts))
	root.AddCommand(destroyCmd(&opts))
	root.AddCommand(stateCmd(&opts))
	root.AddCommand(checkCmd(&opts))
	root.AddCommand(doctorCmd(&opts))
	root.AddCommand(contextcmd.Cmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
