package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridlens/gridlens/internal/output"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect or reset the rate limiter",
}

var ratelimitShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show remaining tokens per tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.client.Initialize(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), output.FormatLimiterState(app.client.LimiterState()))
		return nil
	},
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore both tiers to full capacity",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.client.ResetLimiter(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rate limiter reset")
		return nil
	},
}

func init() {
	ratelimitCmd.AddCommand(ratelimitShowCmd, ratelimitResetCmd)
	rootCmd.AddCommand(ratelimitCmd)
}
