package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridlens/gridlens/internal/output"
)

var homesCmd = &cobra.Command{
	Use:   "homes",
	Short: "List homes on the account",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.close()

		homes, err := app.client.GetHomes(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), output.FormatHomes(homes))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(homesCmd)
}
