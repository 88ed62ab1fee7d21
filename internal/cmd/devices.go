package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridlens/gridlens/internal/core/engine"
	"github.com/gridlens/gridlens/internal/output"
)

var (
	devicesHome    string
	devicesGrouped bool
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List grid-reward devices for a home",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.close()

		homeID, err := app.homeID(cmd.Context(), devicesHome)
		if err != nil {
			return err
		}
		devices, err := app.client.GetDevices(cmd.Context(), homeID)
		if err != nil {
			return err
		}
		if devicesGrouped {
			fmt.Fprintln(cmd.OutOrStdout(), output.FormatDeviceGroups(engine.GroupDevicesByType(devices)))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), output.FormatDevices(devices))
		return nil
	},
}

func init() {
	devicesCmd.Flags().StringVar(&devicesHome, "home", "", "home ID (UUID)")
	devicesCmd.Flags().BoolVar(&devicesGrouped, "grouped", false, "group device IDs by type")
	rootCmd.AddCommand(devicesCmd)
}
