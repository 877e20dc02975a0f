package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/herdctl/herd/internal/controlplane"
	"github.com/herdctl/herd/internal/protocol"
)

var attachShowOutput bool

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach to the running instance and stream events",
	Long: `Attach to this project's runner and stream its events.

Detaching (Ctrl-C or closing the terminal) never affects running work;
the runner keeps scheduling headless.`,
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().BoolVar(&attachShowOutput, "output", false, "Also stream captured agent output")
}

func runAttach(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}

	client, err := controlplane.Dial(root)
	if err != nil {
		return err
	}
	defer client.Close()

	snap, err := client.Attach()
	if err != nil {
		return err
	}
	printSnapshot(snap)

	bold := color.New(color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	for {
		msg, err := client.Next()
		if err != nil {
			fmt.Println("connection closed")
			return nil
		}

		switch m := msg.(type) {
		case *protocol.StatusLine:
			fmt.Printf("%s %s\n", stamp(m.Timestamp), m.Line)
		case *protocol.TaskSpawned:
			fmt.Printf("%s %s item %s → %s (pid %d)\n", stamp(m.Timestamp), bold("spawned"), m.WorkItemID, m.Agent, m.PID)
		case *protocol.TaskCompleted:
			tag := green(m.Result)
			if m.Result != "success" {
				tag = red(m.Result)
			}
			fmt.Printf("%s %s item %s on %s: %s (exit %d)\n", stamp(m.Timestamp), bold("completed"), m.WorkItemID, m.Agent, tag, m.ExitCode)
		case *protocol.HealthChange:
			until := "-"
			if m.Health.BackoffUntil != nil {
				until = m.Health.BackoffUntil.Local().Format(time.Kitchen)
			}
			fmt.Printf("%s %s agent %s: %d consecutive failures, backoff until %s\n",
				stamp(m.Timestamp), yellow("health"), m.Health.Agent, m.Health.ConsecutiveFailures, until)
		case *protocol.OutputChunk:
			if attachShowOutput {
				os.Stdout.Write(m.Data)
			}
		case *protocol.ErrorEvent:
			fmt.Printf("%s %s %s\n", stamp(m.Timestamp), red("error"), m.Message)
		}
	}
}

func printSnapshot(snap *protocol.Snapshot) {
	bold := color.New(color.Bold).SprintFunc()
	s := snap.State

	fmt.Printf("%s instance %s (pid %d), %s since %s\n",
		bold("herd"), s.InstanceID, s.PID, s.Mode, s.StartedAt.Local().Format(time.RFC822))
	if len(s.ActiveRuns) == 0 {
		fmt.Println("no runs in flight")
	}
	for _, run := range s.ActiveRuns {
		fmt.Printf("  running: item %s on %s (pid %d since %s)\n",
			run.WorkItemID, run.Agent, run.PID, run.StartedAt.Local().Format(time.Kitchen))
	}
	for _, h := range s.Health {
		if h.BackoffUntil != nil {
			fmt.Printf("  backoff: agent %s until %s\n", h.Agent, h.BackoffUntil.Local().Format(time.Kitchen))
		}
	}
}

func stamp(t time.Time) string {
	return t.Local().Format("15:04:05")
}
