// Package cmd implements the CLI entrypoint using cobra.
package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "hsf-pipeline",
	Short: "Pipeline orchestration engine for low-latency sensor-fusion inference",
	Long: `hsf-pipeline runs a low-latency sensor-fusion inference engine:
it parses client-submitted pipeline descriptions into a node graph,
schedules NodeWorkers over a fixed thread budget, and exposes the
engine over HTTP and gRPC frontends.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and parses flags.
// Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "C", "/etc/hsf-pipeline/hsf-pipeline.ini",
		"config file path ([Service]/[HTTP]/[Pipeline] sections)")

	rootCmd.AddCommand(serveCmd)
}
