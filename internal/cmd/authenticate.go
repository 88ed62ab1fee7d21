package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var authenticateCmd = &cobra.Command{
	Use:   "authenticate",
	Short: "Verify credentials against the upstream API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.client.Authenticate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "authentication succeeded")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authenticateCmd)
}
