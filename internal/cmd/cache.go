package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridlens/gridlens/internal/output"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit and miss counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.close()

		fmt.Fprintln(cmd.OutOrStdout(), output.FormatCacheStats(app.client.CacheStats()))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all cached responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.close()

		app.client.InvalidateCache()
		fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
