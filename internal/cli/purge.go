package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/blocklog/internal/core"
	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old log entries",
	Long: `Delete every log entry older than the given age. Purged changes can no
longer be looked up, rolled back or restored.

Example:
  blocklog purge --older-than 30d`,
	Run: runPurge,
}

var purgeOlderThan string

func init() {
	purgeCmd.Flags().StringVar(&purgeOlderThan, "older-than", "", "Age of the entries to delete, e.g. 30d (required)")
	purgeCmd.MarkFlagRequired("older-than")
}

func runPurge(cmd *cobra.Command, args []string) {
	age, err := core.ParseWindow(purgeOlderThan)
	if err != nil {
		exitError("%v", err)
	}

	c := initContext()
	defer c.Close()

	before := time.Now().Add(-age)
	n, err := c.Store.Purge(cmd.Context(), before)
	if err != nil {
		exitError("purge failed: %v", err)
	}

	if n == 0 {
		color.New(color.FgYellow).Println("Nothing to purge.")
		return
	}
	color.New(color.FgGreen).Printf("Purged %s entries ", humanize.Comma(n))
	fmt.Printf("older than %s\n", before.Format(time.DateTime))
}
