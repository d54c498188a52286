package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/kilupskalvis/blocklog/internal/nbt"
)

// EntryWriter persists new log entries.
type EntryWriter interface {
	Insert(ctx context.Context, e *models.LogEntry) error
}

// Recorder turns game events into log entries. Writes go through the store,
// so they land in the open batch transaction when one is running.
type Recorder struct {
	store  EntryWriter
	clock  func() time.Time
	logger *slog.Logger
}

// NewRecorder creates a recorder. A nil clock uses time.Now.
func NewRecorder(st EntryWriter, clock func() time.Time, logger *slog.Logger) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: st, clock: clock, logger: logger}
}

// Record stamps and stores e. The timestamp is taken from the recorder's clock
// at second precision and the state is reset to unapplied.
func (r *Recorder) Record(ctx context.Context, e *models.LogEntry) error {
	e.ID = 0
	e.Timestamp = r.clock().Truncate(time.Second)
	e.State = models.StateUnapplied
	if err := r.store.Insert(ctx, e); err != nil {
		r.logger.Error("failed to record action", "action", e.Action.String(), "world", e.World, "error", err)
		return err
	}
	return nil
}

// BlockPlaced records a player placing a block over old (nil for air).
func (r *Recorder) BlockPlaced(ctx context.Context, actor, worldName string, pos area.Pos, old, placed *models.BlockState) (*models.LogEntry, error) {
	if placed.IsAir() {
		return nil, fmt.Errorf("%w: placed block is air", models.ErrInvalidEntry)
	}
	return r.block(ctx, models.ActionPlace, actor, worldName, pos, old, placed)
}

// BlockBroken records a player breaking old.
func (r *Recorder) BlockBroken(ctx context.Context, actor, worldName string, pos area.Pos, old *models.BlockState) (*models.LogEntry, error) {
	if old.IsAir() {
		return nil, fmt.Errorf("%w: broken block is air", models.ErrInvalidEntry)
	}
	return r.block(ctx, models.ActionBreak, actor, worldName, pos, old, nil)
}

// NaturalChange records a block change without a player cause, such as fire,
// liquid flow, leaf decay or an explosion.
func (r *Recorder) NaturalChange(ctx context.Context, action models.Action, actor, worldName string, pos area.Pos, old, replacement *models.BlockState) (*models.LogEntry, error) {
	switch action.Category() {
	case models.CategoryPlacement, models.CategoryRemoval:
	default:
		return nil, fmt.Errorf("%w: %s is not a block change", models.ErrInvalidEntry, action)
	}
	return r.block(ctx, action, actor, worldName, pos, old, replacement)
}

// EntityKilled records actor killing target. snapshot is the entity's saved
// state and is what a rollback respawns.
func (r *Recorder) EntityKilled(ctx context.Context, actor, worldName string, pos area.Pos, target string, snapshot nbt.Compound) (*models.LogEntry, error) {
	e := &models.LogEntry{
		World:  worldName,
		Pos:    pos,
		Actor:  actor,
		Action: models.ActionKill,
		Change: &models.EntityKill{Target: target, Snapshot: snapshot},
	}
	if err := r.Record(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ItemTransferred records items moving through a container. removed left the
// container and added entered it; either may be nil.
func (r *Recorder) ItemTransferred(ctx context.Context, actor, worldName string, pos area.Pos, removed, added *models.ItemStack) (*models.LogEntry, error) {
	action := models.ActionContainerClick
	amount := 0
	switch {
	case removed != nil && added == nil:
		action, amount = models.ActionItemRemove, removed.Count
	case added != nil && removed == nil:
		action, amount = models.ActionItemAdd, added.Count
	case removed == nil && added == nil:
		return nil, fmt.Errorf("%w: empty item transfer", models.ErrInvalidEntry)
	}
	e := &models.LogEntry{
		World:  worldName,
		Pos:    pos,
		Actor:  actor,
		Action: action,
		Change: &models.ItemTransfer{Old: removed, New: added, Amount: amount},
	}
	if err := r.Record(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Recorder) block(ctx context.Context, action models.Action, actor, worldName string, pos area.Pos, old, replacement *models.BlockState) (*models.LogEntry, error) {
	c := &models.BlockChange{}
	if !old.IsAir() {
		c.Old = old
	}
	if !replacement.IsAir() {
		c.New = replacement
	}
	if c.Empty() {
		return nil, fmt.Errorf("%w: air replaced by air", models.ErrInvalidEntry)
	}
	e := &models.LogEntry{
		World:  worldName,
		Pos:    pos,
		Actor:  actor,
		Action: action,
		Change: c,
	}
	if err := r.Record(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
