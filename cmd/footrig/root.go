package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "footrig",
		Short: "Hydraulic foot-stand test rig controller",
		Long: `footrig drives a hydraulic foot-stand test rig over an EtherCAT style fieldbus.

It runs single support and retract pressure tests, long reliability runs with
textual reports, and serves an HTTP/websocket admin API next to an optional
terminal console.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "path to the YAML configuration file")
	pf.StringVar(&f.logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	pf.BoolVar(&f.sim, "sim", false, "use the simulated fieldbus regardless of the configuration")

	cmd.AddCommand(
		newRunCmd(f),
		newTestCmd(f, "support"),
		newTestCmd(f, "retract"),
		newReliabilityCmd(f),
		newMonitorCmd(f),
		newConfigCmd(f),
	)

	return cmd
}
