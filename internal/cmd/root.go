// Package cmd implements the gridlens command line interface.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool

	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by the main package to record build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "gridlens",
	Short: "Client for the unofficial Tibber grid-rewards API",
	Long: `gridlens fetches homes, devices, and grid reward history from the
unofficial Tibber API, with rate limiting, adaptive caching, and
automatic retry built in.

Credentials come from config, GRIDLENS_ACCOUNT_EMAIL/GRIDLENS_ACCOUNT_PASSWORD
environment variables, or a .env file.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gridlens.yaml or ~/.config/gridlens/gridlens.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}
