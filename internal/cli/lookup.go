package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/blocklog/internal/inspect"
	"github.com/kilupskalvis/blocklog/internal/store"
	"github.com/spf13/cobra"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Show logged changes",
	Long: `Show one page of logged changes matching the filter, newest first.

Examples:
  blocklog lookup -t 1h
  blocklog lookup -t 2d --at 100,64,-20 -r 10 -a break
  blocklog lookup -t 1w -u #fire --page 2`,
	Run: runLookup,
}

var (
	lookupFilter filterFlags
	lookupPage   int
	lookupLimit  int
	lookupJSON   bool
)

func init() {
	lookupFilter.register(lookupCmd)
	lookupCmd.Flags().IntVarP(&lookupPage, "page", "p", 1, "Page to show")
	lookupCmd.Flags().IntVarP(&lookupLimit, "n", "n", 0, "Entries per page (default from config)")
	lookupCmd.Flags().BoolVar(&lookupJSON, "json", false, "Print the page as JSON")
}

func runLookup(cmd *cobra.Command, args []string) {
	if lookupPage < 1 {
		exitError("page must be at least 1")
	}

	var report *inspect.Report
	if client := remoteClient(); client != nil {
		req, err := lookupFilter.request()
		if err != nil {
			exitError("%v", err)
		}
		report, err = client.Lookup(cmd.Context(), req, lookupPage, lookupLimit)
		if err != nil {
			exitError("lookup failed: %v", err)
		}
		if report.Total == 0 {
			report = nil
		}
	} else {
		report = localLookup(cmd.Context())
	}

	if report == nil {
		color.New(color.FgYellow).Println(inspect.English{}.NoData())
		return
	}
	printReport(report)
}

// localLookup reads the page from the local database. It returns nil when
// nothing matched.
func localLookup(ctx context.Context) *inspect.Report {
	c := initContext()
	defer c.Close()

	f, err := lookupFilter.build(c.Config.DefaultWorld)
	if err != nil {
		exitError("%v", err)
	}
	limit := lookupLimit
	if limit <= 0 {
		limit = c.Config.PageSize
	}

	now := time.Now()
	q, err := f.Query(now, store.OrderDescending)
	if err != nil {
		exitError("%v", err)
	}

	page := inspect.Page{Limit: limit, Offset: (lookupPage - 1) * limit}
	report, err := inspect.Lookup(ctx, c.Store, q, page, now, c.Names)
	if errors.Is(err, inspect.ErrNoData) {
		return nil
	}
	if err != nil {
		exitError("lookup failed: %v", err)
	}
	return report
}

func printReport(report *inspect.Report) {
	if lookupJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			exitError("%v", err)
		}
		return
	}

	lines := report.Render(inspect.English{})
	color.New(color.FgCyan).Println(lines[0])
	undone := color.New(color.Faint)
	for i, l := range report.Lines {
		if l.RolledBack {
			undone.Println(lines[i+1])
		} else {
			fmt.Println(lines[i+1])
		}
	}
}
