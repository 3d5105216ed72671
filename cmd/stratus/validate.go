package main

import (
	"fmt"

	"stratus/cmd/stratus/ui"
	"stratus/internal/manifest"

	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest.yaml>",
		Short: "Parse and validate a manifest without touching any backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := manifest.LoadFile(args[0], "")
			if err != nil {
				return err
			}

			vms := 0
			for _, r := range m.Resources {
				if r.Kind == manifest.KindVirtualMachine {
					vms++
				}
			}

			fmt.Print(ui.KeyValues("  ",
				ui.KV("name", m.Name),
				ui.KV("location", m.Location),
				ui.KV("resources", fmt.Sprintf("%d", len(m.Resources))),
				ui.KV("machines", fmt.Sprintf("%d", vms)),
			))

			fmt.Println(ui.SuccessMsg("Manifest %s is valid.", ui.Bold(m.Name)))
			return nil
		},
	}
}
