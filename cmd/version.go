package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "v0.3.0-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Babyguess %s\n", version)
	},
}
