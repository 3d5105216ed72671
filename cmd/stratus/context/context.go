// Package contextcmd implements "stratus context": named environment
// contexts following the kubeconfig pattern.
package contextcmd

import "github.com/spf13/cobra"

// Cmd returns the parent "stratus context" command.
func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Manage environment contexts",
	}

	cmd.AddCommand(listCmd())
	cmd.AddCommand(useCmd())
	cmd.AddCommand(setCmd())
	cmd.AddCommand(removeCmd())
	return cmd
}
