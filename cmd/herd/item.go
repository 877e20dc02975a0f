package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/herdctl/herd/internal/state"
	"github.com/herdctl/herd/pkg/models"
)

var (
	itemPriority  int
	itemTier      string
	itemBlockedBy []string
	itemLabels    []string
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage work items",
}

var itemAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Queue a new work item",
	Long: `Queue a new work item.

Examples:
  herd item add "Fix login flow"
  herd item add "Ship exporter" --tier complex --priority 0
  herd item add "Write docs" --blocked-by 3f2a... --blocked-by 9c1b...`,
	Args: cobra.ExactArgs(1),
	RunE: runItemAdd,
}

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all work items",
	RunE:  runItemList,
}

var itemCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Mark a work item closed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setStatus(args[0], models.StatusClosed)
	},
}

var itemCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a work item (its dependents stay blocked)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setStatus(args[0], models.StatusCancelled)
	},
}

var itemDepCmd = &cobra.Command{
	Use:   "dep <id> <blocker-id>",
	Short: "Add a dependency edge (rejects cycles)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openProjectDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.AddDependency(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s now blocked by %s\n", args[0], args[1])
		return nil
	},
}

var itemUndepCmd = &cobra.Command{
	Use:   "undep <id> <blocker-id>",
	Short: "Remove a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openProjectDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.RemoveDependency(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s no longer blocked by %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	itemAddCmd.Flags().IntVar(&itemPriority, "priority", 2, "Priority (lower runs first)")
	itemAddCmd.Flags().StringVar(&itemTier, "tier", "standard", "Complexity tier: simple, standard, complex")
	itemAddCmd.Flags().StringArrayVar(&itemBlockedBy, "blocked-by", nil, "IDs this item waits on (repeatable)")
	itemAddCmd.Flags().StringArrayVar(&itemLabels, "label", nil, "Labels (repeatable)")

	itemCmd.AddCommand(itemAddCmd)
	itemCmd.AddCommand(itemListCmd)
	itemCmd.AddCommand(itemCloseCmd)
	itemCmd.AddCommand(itemCancelCmd)
	itemCmd.AddCommand(itemDepCmd)
	itemCmd.AddCommand(itemUndepCmd)
}

func runItemAdd(cmd *cobra.Command, args []string) error {
	db, err := openProjectDB()
	if err != nil {
		return err
	}
	defer db.Close()

	item := &models.WorkItem{
		Title:    args[0],
		Priority: itemPriority,
		Tier:     models.Tier(itemTier),
		Labels:   itemLabels,
	}
	if err := db.CreateWorkItem(item); err != nil {
		return err
	}
	// Edges go through AddDependency so cycle checks apply.
	for _, blocker := range itemBlockedBy {
		if err := db.AddDependency(item.ID, blocker); err != nil {
			return fmt.Errorf("dependency on %s: %w", blocker, err)
		}
	}

	fmt.Printf("queued %s\n", item.ID)
	return nil
}

func runItemList(cmd *cobra.Command, args []string) error {
	db, err := openProjectDB()
	if err != nil {
		return err
	}
	defer db.Close()

	items, err := db.ListWorkItems()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	dim := color.New(color.Faint).SprintFunc()
	for _, it := range items {
		line := fmt.Sprintf("%s  [%s p%d %s] %s", it.ID, it.Status, it.Priority, it.Tier, it.Title)
		if len(it.BlockedBy) > 0 {
			line += dim(fmt.Sprintf("  (blocked by %v)", it.BlockedBy))
		}
		if len(it.Labels) > 0 {
			line += dim(fmt.Sprintf("  %v", it.Labels))
		}
		fmt.Println(line)
	}
	return nil
}

func setStatus(id string, status models.Status) error {
	db, err := openProjectDB()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.SetWorkItemStatus(id, status); err != nil {
		return err
	}
	fmt.Printf("%s → %s\n", id, status)
	return nil
}

// openProjectDB opens and migrates the current project's store.
func openProjectDB() (*state.DB, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	db, err := state.OpenProject(root)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
