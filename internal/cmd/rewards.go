package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridlens/gridlens/internal/output"
)

var (
	rewardsHome string
	rewardsFrom string
	rewardsTo   string
)

var rewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "Fetch grid reward totals for a date range",
	Long: `Fetch aggregated grid reward earnings for a home over a date range.
Dates are ISO 8601 (2026-08-01 or full timestamps). The range defaults to
the current month so far.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.close()

		homeID, err := app.homeID(cmd.Context(), rewardsHome)
		if err != nil {
			return err
		}

		from, to := rewardsFrom, rewardsTo
		if from == "" || to == "" {
			now := time.Now().UTC()
			if from == "" {
				from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
			}
			if to == "" {
				to = now.Format(time.RFC3339)
			}
		}

		period, err := app.client.GetRewardHistory(cmd.Context(), homeID, from, to, false)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), output.FormatPeriod(period))
		return nil
	},
}

func init() {
	rewardsCmd.Flags().StringVar(&rewardsHome, "home", "", "home ID (UUID)")
	rewardsCmd.Flags().StringVar(&rewardsFrom, "from", "", "range start (ISO 8601, default: first of current month)")
	rewardsCmd.Flags().StringVar(&rewardsTo, "to", "", "range end (ISO 8601, default: now)")
	rootCmd.AddCommand(rewardsCmd)
}
