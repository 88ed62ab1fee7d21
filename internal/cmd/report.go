package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridlens/gridlens/internal/core/engine"
	"github.com/gridlens/gridlens/internal/output"
)

var reportHome string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Compile the full reward report for a home",
	Long: `Compile reward totals for the current day, current month, previous
month, and year to date in a single concurrent pass. Periods that fail
upstream are shown as empty rather than failing the whole report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.close()

		homeID, err := app.homeID(cmd.Context(), reportHome)
		if err != nil {
			return err
		}

		reporter := &engine.Reporter{Client: app.client, HomeID: homeID, Logger: app.logger}
		report, err := reporter.Compile(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), output.FormatReport(report))
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportHome, "home", "", "home ID (UUID)")
	rootCmd.AddCommand(reportCmd)
}
