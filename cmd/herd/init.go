package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/herdctl/herd/internal/routing"
	"github.com/herdctl/herd/internal/state"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a herd project",
	Long: `Initialize a directory for use with herd.

Creates the .herd directory with a default routing configuration and an
empty state database. Edit .herd/config.yaml to point tiers at your
agents before starting the runner.

Examples:
  herd init              # Initialize current directory
  herd init ./myproject  # Initialize specific directory
  herd init --force      # Rewrite the default config`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Rewrite the default config even if one exists")
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := projectRoot(args)
	if err != nil {
		return err
	}

	cfgPath := routing.ConfigPath(root)
	if initForce {
		os.Remove(cfgPath)
	}
	if err := routing.WriteDefault(cfgPath); err != nil {
		return err
	}

	db, err := state.OpenProject(root)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s initialized herd project in %s\n", green("✓"), filepath.Join(root, ".herd"))
	fmt.Printf("  config:   %s\n", cfgPath)
	fmt.Printf("  database: %s\n", db.Path())
	fmt.Println("\nEdit the config to route tiers to your agents, then run 'herd serve'.")
	return nil
}

// projectRoot resolves the optional directory argument.
func projectRoot(args []string) (string, error) {
	if len(args) == 1 {
		return filepath.Abs(args[0])
	}
	return os.Getwd()
}
