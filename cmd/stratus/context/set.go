package contextcmd

import (
	"fmt"

	"stratus/cmd/stratus/ui"
	"stratus/config"
	"stratus/internal/driver"

	"github.com/spf13/cobra"
)

func setCmd() *cobra.Command {
	var driverName, location, statePath string

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Add or update a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]

			if driverName != "" {
				if _, err := driver.New(driverName); err != nil {
					return err
				}
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			cfg.Set(name, config.Context{
				Driver:    driverName,
				Location:  location,
				StatePath: statePath,
			})

			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("Context %s saved.", ui.Bold(name)))
			return nil
		},
	}

	cmd.Flags().StringVar(&driverName, "driver", "", "Backend driver (azcli, dockersim, memory)")
	cmd.Flags().StringVar(&location, "location", "", "Default location for manifests that omit one")
	cmd.Flags().StringVar(&statePath, "state", "", "State database path")
	return cmd
}
