package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "herd",
	Short: "Agent orchestration engine",
	Long: `Herd runs coding agents against a queue of interdependent work items.

It decides which item runs next based on dependency ordering, per-agent
concurrency limits, and agent health; owns the lifecycle of every spawned
subprocess; and exposes the running state over a local control socket so
the engine keeps working headless after a client disconnects.

Typical flow:
  herd init            # set up .herd/ with a default routing config
  herd item add ...    # queue work items with dependencies
  herd serve           # start the runner
  herd attach          # watch it from another terminal`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(versionCmd)
}
