package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/herdctl/herd/internal/controlplane"
	"github.com/herdctl/herd/internal/protocol"
)

var stopForce bool

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause scheduling (in-flight work keeps draining)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(&protocol.Pause{})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume scheduling after a pause",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(&protocol.Resume{})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the runner",
	Long: `Stop this project's runner.

By default the stop is graceful: no new items are started and the runner
exits once in-flight work drains. With --force, in-flight subprocesses
are killed immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if stopForce {
			return sendCommand(&protocol.ForceStop{})
		}
		return sendCommand(&protocol.Stop{})
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the routing configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(&protocol.ReloadConfig{})
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "Kill in-flight subprocesses immediately")
}

// sendCommand dials the project runner, issues one command, and prints
// the acknowledgement.
func sendCommand(msg protocol.Message) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}

	client, err := controlplane.Dial(root)
	if err != nil {
		return err
	}
	defer client.Close()

	ack, err := client.Command(msg)
	if err != nil {
		return err
	}
	fmt.Println(ack)
	return nil
}
