package cmd

import (
	"github.com/spf13/cobra"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands are registered here.
func RootCmd() *cobra.Command {
	return rootCmd(newApp())
}

func rootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dmmscan",
		Short: "dmmscan polls a group of digital multimeters and publishes their readings.",
		Long: `dmmscan polls a group of digital multimeters behind a LAN/GPIB gateway once per
period and publishes the readings of every cycle as one record.

Settings are read from an optional YAML file (--config), DMMSCAN_* environment
variables and flags, flags taking precedence. Example file:

prefix: LAB:DMM
instrument:
  host: 10.0.0.5
  addresses: ["22", "23"]
publish:
  prometheus: true
http:
  listen: ":9110"`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "YAML configuration file")
	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	cmd.PersistentFlags().String("bus", "gpib0", "gateway bus name prefixed to bare addresses")
	cmd.PersistentFlags().String("transport", "vxi11", "instrument transport: vxi11 or sim")

	cmd.AddCommand(
		runCmd(a),
		simulateCmd(a),
		consoleCmd(a),
	)

	return cmd
}
