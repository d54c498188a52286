package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/blocklog/internal/api"
	"github.com/kilupskalvis/blocklog/internal/core"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Undo logged changes in the world file",
	Long: `Undo every logged change matching the filter, newest first.
Entries already rolled back are skipped, so running a rollback twice is safe.

Examples:
  blocklog rollback -t 1h -u 3f0a8a7e-2b1c-4d5e-9f60-7a8b9c0d1e2f
  blocklog rollback -t 30m --at 0,64,0 -r 20 -e minecraft:tnt`,
	Run: func(cmd *cobra.Command, args []string) {
		runReplay(cmd, &rollbackFilter, models.DirectionRollback)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Re-apply rolled back changes",
	Long: `Re-apply rolled back changes matching the filter, oldest first.
Only entries that are currently rolled back are touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		runReplay(cmd, &restoreFilter, models.DirectionRestore)
	},
}

var (
	rollbackFilter filterFlags
	restoreFilter  filterFlags
	replayQuiet    bool
)

func init() {
	rollbackFilter.register(rollbackCmd)
	restoreFilter.register(restoreCmd)
	for _, cmd := range []*cobra.Command{rollbackCmd, restoreCmd} {
		cmd.Flags().BoolVarP(&replayQuiet, "quiet", "q", false, "Hide the progress bar")
	}
}

func runReplay(cmd *cobra.Command, ff *filterFlags, dir models.Direction) {
	var out *api.RunResponse
	if client := remoteClient(); client != nil {
		out = remoteReplay(cmd.Context(), client, ff, dir)
	} else {
		out = localReplay(cmd.Context(), ff, dir)
	}
	printResult(out)
}

func remoteReplay(ctx context.Context, client *api.Client, ff *filterFlags, dir models.Direction) *api.RunResponse {
	req, err := ff.request()
	if err != nil {
		exitError("%v", err)
	}

	var out *api.RunResponse
	if dir == models.DirectionRollback {
		out, err = client.Rollback(ctx, req)
	} else {
		out, err = client.Restore(ctx, req)
	}
	if err != nil {
		exitReplay(dir, err)
	}
	return out
}

func localReplay(ctx context.Context, ff *filterFlags, dir models.Direction) *api.RunResponse {
	c := initWorldContext()
	defer c.Close()

	f, err := ff.build(c.Config.DefaultWorld)
	if err != nil {
		exitError("%v", err)
	}

	var bar *progressbar.ProgressBar
	opts := core.Options{
		Logger:          c.Logger,
		LoadConcurrency: c.Config.LoadConcurrency,
	}
	if !replayQuiet {
		opts.Progress = func(done, total int) {
			if bar == nil {
				bar = newProgressBar(total, dir.String())
			}
			bar.Set(done)
		}
	}
	eng := core.NewEngine(c.Store, c.World, opts)

	res, err := eng.Run(ctx, core.Request{Filter: f, Direction: dir})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		c.Close()
		if res.Applied > 0 {
			fmt.Fprintf(os.Stderr, "%d of %d entries were applied before the failure\n", res.Applied, res.Matched)
		}
		exitReplay(dir, err)
	}

	out := api.NewRunResponse(res)
	return &out
}

func exitReplay(dir models.Direction, err error) {
	switch {
	case errors.Is(err, core.ErrChunkLoad):
		exitError("%s aborted, nothing was changed: %v", dir, err)
	case errors.Is(err, core.ErrRegionBusy):
		exitError("another rollback is running in this area")
	default:
		exitError("%s failed: %v", dir, err)
	}
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func printResult(res *api.RunResponse) {
	if res.NoData {
		color.New(color.FgYellow).Println("No data found.")
		return
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	if res.Phase == core.PhaseCompleted.String() {
		green.Printf("%s complete", res.Direction)
	} else {
		yellow.Printf("%s completed with errors", res.Direction)
	}
	fmt.Printf(" in %s\n", time.Duration(res.DurationMS)*time.Millisecond)

	fmt.Printf("  matched: %s\n", humanize.Comma(int64(res.Matched)))
	green.Printf("  applied: %s\n", humanize.Comma(int64(res.Applied)))
	if res.Skipped > 0 {
		fmt.Printf("  skipped: %s\n", humanize.Comma(int64(res.Skipped)))
	}
	if res.Failed > 0 {
		red.Printf("  failed:  %s\n", humanize.Comma(int64(res.Failed)))
		for _, e := range res.Errors {
			red.Printf("    %s\n", e)
		}
	}
	fmt.Printf("  chunks:  %d\n", res.Chunks)
}
