package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/herdctl/herd/internal/controlplane"
	"github.com/herdctl/herd/internal/protocol"
	"github.com/herdctl/herd/internal/state"
	"github.com/herdctl/herd/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and runner state",
	Long: `Display the current state of this project's queue.

Shows ready, blocked, and in-progress work items from the store, and the
live runner snapshot when an instance is running. Works without a runner:
the store is readable by any process.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}

	dbPath := state.ProjectDBPath(root)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No herd project here. Run 'herd init' to create one.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	if id, err := controlplane.ReadIdentity(root); err == nil {
		if snap := liveSnapshot(root); snap != nil {
			s := snap.State
			fmt.Printf("%s runner pid %d, %s since %s\n",
				bold("herd"), s.PID, s.Mode, s.StartedAt.Local().Format(time.RFC822))
			for _, run := range s.ActiveRuns {
				fmt.Printf("  running: item %s on %s (pid %d)\n", run.WorkItemID, run.Agent, run.PID)
			}
		} else {
			fmt.Printf("%s runner pid %d not answering on its socket\n", bold("herd"), id.PID)
		}
	} else {
		fmt.Printf("%s no runner attached to this project\n", bold("herd"))
	}

	items, err := db.ListWorkItems()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	counts := make(map[models.Status]int)
	for _, it := range items {
		counts[it.Status]++
	}
	fmt.Printf("%d items: %d open, %d in progress, %d review, %d closed\n",
		len(items), counts[models.StatusOpen], counts[models.StatusInProgress],
		counts[models.StatusReview], counts[models.StatusClosed])

	ready, err := db.FindReady()
	if err != nil {
		return err
	}
	if len(ready) > 0 {
		fmt.Println("\nready:")
		for _, it := range ready {
			fmt.Printf("  [p%d %s] %s  %s\n", it.Priority, it.Tier, it.ID, it.Title)
		}
	}

	blocked, err := db.FindBlocked()
	if err != nil {
		return err
	}
	if len(blocked) > 0 {
		fmt.Println("\nblocked:")
		for _, it := range blocked {
			fmt.Printf("  %s  %s (waiting on %v)\n", it.ID, it.Title, it.BlockedBy)
		}
	}

	health, err := db.ListHealth()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, h := range health {
		if h.InBackoff(now) {
			fmt.Printf("\n%s agent %s in backoff until %s (%d consecutive failures)\n",
				yellow("!"), h.Agent, h.BackoffUntil.Local().Format(time.Kitchen), h.ConsecutiveFailures)
		}
	}
	return nil
}

// liveSnapshot fetches the runner's current state over the control
// socket. Nil when no runner answers; the store sections work regardless.
func liveSnapshot(root string) *protocol.Snapshot {
	client, err := controlplane.Dial(root)
	if err != nil {
		return nil
	}
	defer client.Close()

	snap, err := client.Attach()
	if err != nil {
		return nil
	}
	return snap
}
