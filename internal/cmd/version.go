package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/viant/gatekeeper"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gatekeeper %s\n", gatekeeper.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
