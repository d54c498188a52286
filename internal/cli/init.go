package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/blocklog/internal/config"
	"github.com/kilupskalvis/blocklog/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize blocklog in the current directory",
	Long: `Initialize blocklog in the current directory.
This creates a .blocklog directory holding the config file and the log database.`,
	Run: runInit,
}

var initWorld string

func init() {
	initCmd.Flags().StringVar(&initWorld, "world", "world", "Default world for commands that omit --world")
}

func runInit(cmd *cobra.Command, args []string) {
	if _, err := config.FindRoot(); err == nil {
		exitError("blocklog directory already exists")
	}

	cfg, err := config.Initialize(initWorld)
	if err != nil {
		exitError("failed to initialize: %v", err)
	}

	st, err := store.New(cfg.DatabasePath(), nil)
	if err != nil {
		exitError("failed to create database: %v", err)
	}
	defer st.Close()

	if err := st.Initialize(); err != nil {
		exitError("failed to initialize database: %v", err)
	}

	color.New(color.FgGreen).Printf("Initialized blocklog in %s\n", cfg.Path())
	fmt.Printf("Default world: %s\n", cfg.DefaultWorld)
	fmt.Printf("Database:      %s\n", cfg.DatabasePath())
	fmt.Printf("World file:    %s\n", cfg.WorldPath())
}
