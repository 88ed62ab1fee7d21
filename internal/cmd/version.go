package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gridlens %s\n", versionInfo.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit:     %s\n", versionInfo.Commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:      %s\n", versionInfo.BuildDate)
		fmt.Fprintf(cmd.OutOrStdout(), "  go version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
