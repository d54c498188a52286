// Package world defines the host world the rollback engine mutates and ships
// two implementations of it: MockWorld for tests and BoltWorld, which keeps
// chunks in a bbolt file for the standalone CLI.
package world

import (
	"context"
	"errors"

	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/kilupskalvis/blocklog/internal/nbt"
)

var (
	// ErrChunkNotLoaded is returned when a position's chunk is not in memory.
	ErrChunkNotLoaded = errors.New("chunk not loaded")
	// ErrNoContainer is returned when an item operation targets a position
	// without a container block.
	ErrNoContainer = errors.New("no container at position")
	// ErrInsufficientItems is returned when a container holds fewer items than
	// a removal asks for.
	ErrInsufficientItems = errors.New("not enough items in container")
	// ErrNoEntity is returned when no matching entity stands at a position.
	ErrNoEntity = errors.New("no matching entity at position")
)

// Provider is the world surface the engine needs. Mutating methods must be
// called from the world's executor.
type Provider interface {
	// Chunk residency
	IsChunkLoaded(world string, c area.ChunkCoord) bool
	LoadChunk(ctx context.Context, world string, c area.ChunkCoord) error

	// Blocks. A nil state is air.
	GetBlock(ctx context.Context, world string, pos area.Pos) (*models.BlockState, error)
	SetBlock(ctx context.Context, world string, pos area.Pos, state *models.BlockState) error

	// Container contents
	AddItem(ctx context.Context, world string, pos area.Pos, stack models.ItemStack) error
	RemoveItem(ctx context.Context, world string, pos area.Pos, stack models.ItemStack) error

	// Entities
	SpawnEntity(ctx context.Context, world string, pos area.Pos, name string, snapshot nbt.Compound) error
	DespawnEntity(ctx context.Context, world string, pos area.Pos, name string) error
}

// Entity is a spawned entity and its saved state.
type Entity struct {
	Name string
	Data nbt.Compound
}

// Containers are recognised by block name.
var containerBlocks = map[string]bool{
	"minecraft:chest":         true,
	"minecraft:trapped_chest": true,
	"minecraft:barrel":        true,
	"minecraft:furnace":       true,
	"minecraft:hopper":        true,
	"minecraft:dispenser":     true,
	"minecraft:dropper":       true,
	"minecraft:shulker_box":   true,
}

// IsContainer reports whether blocks with this name hold items.
func IsContainer(name string) bool {
	return containerBlocks[name]
}
