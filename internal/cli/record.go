package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/blocklog/internal/actors"
	"github.com/kilupskalvis/blocklog/internal/core"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record <action>",
	Short: "Apply a block change to the world file and log it",
	Long: `Apply a block change to the bbolt world and record it in the log, the way
a server plugin would on a game event. Useful for seeding test worlds.

Examples:
  blocklog record place --user <uuid> --name Alice --at 0,64,0 --block minecraft:stone
  blocklog record break --user <uuid> --at 0,64,0
  blocklog record burn --user #fire --at 3,70,1`,
	Args: cobra.ExactArgs(1),
	Run:  runRecord,
}

var (
	recordWorld string
	recordUser  string
	recordName  string
	recordAt    string
	recordBlock string
	recordMeta  int
)

func init() {
	f := recordCmd.Flags()
	f.StringVarP(&recordWorld, "world", "w", "", "World name (default from config)")
	f.StringVarP(&recordUser, "user", "u", "", "Player UUID or cause like #fire")
	f.StringVar(&recordName, "name", "", "Player display name to remember")
	f.StringVar(&recordAt, "at", "", "Block position x,y,z")
	f.StringVarP(&recordBlock, "block", "b", "", "Block placed at the position")
	f.IntVar(&recordMeta, "meta", 0, "Metadata of --block")
	recordCmd.MarkFlagRequired("user")
	recordCmd.MarkFlagRequired("at")
}

func runRecord(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	action, err := models.ParseAction(args[0])
	if err != nil {
		exitError("%v", err)
	}
	pos, err := parsePos(recordAt)
	if err != nil {
		exitError("%v", err)
	}

	c := initWorldContext()
	defer c.Close()

	worldName := recordWorld
	if worldName == "" {
		worldName = c.Config.DefaultWorld
	}

	actor := actors.FilterID(recordUser)
	if !actors.IsEnvironment(actor) {
		if err := actors.ValidatePlayerID(actor); err != nil {
			exitError("%v", err)
		}
		if recordName != "" {
			if err := c.Names.Remember(ctx, actor, recordName); err != nil {
				exitError("failed to save player name: %v", err)
			}
		}
	}

	if err := c.World.LoadChunk(ctx, worldName, pos.Chunk()); err != nil {
		exitError("failed to load chunk: %v", err)
	}
	current, err := c.World.GetBlock(ctx, worldName, pos)
	if err != nil {
		exitError("failed to read block: %v", err)
	}
	var placed *models.BlockState
	if recordBlock != "" {
		placed = &models.BlockState{Name: recordBlock, Meta: recordMeta}
	}

	rec := core.NewRecorder(c.Store, nil, c.Logger)
	var entry *models.LogEntry
	switch action {
	case models.ActionPlace:
		entry, err = rec.BlockPlaced(ctx, actor, worldName, pos, current, placed)
	case models.ActionBreak:
		placed = nil
		entry, err = rec.BlockBroken(ctx, actor, worldName, pos, current)
	default:
		entry, err = rec.NaturalChange(ctx, action, actor, worldName, pos, current, placed)
	}
	if err != nil {
		exitError("failed to record %s: %v", action, err)
	}

	if err := c.World.SetBlock(ctx, worldName, pos, placed); err != nil {
		exitError("failed to update world: %v", err)
	}

	color.New(color.FgGreen).Printf("Recorded #%d ", entry.ID)
	fmt.Printf("%s at %s %s\n", action, worldName, pos)
}
