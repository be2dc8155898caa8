package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd creates the `sputnik version` command.
func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sputnik version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sputnik %s\n", version)
		},
	}
}
