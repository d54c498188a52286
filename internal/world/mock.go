package world

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/kilupskalvis/blocklog/internal/nbt"
)

// MockWorld is an in-memory Provider for testing. Chunks start unloaded and
// every chunk loads as empty terrain unless LoadErrs says otherwise.
type MockWorld struct {
	mu     sync.Mutex
	chunks map[string]map[int64]*chunk
	loaded map[string]area.ChunkSet

	// Err can be set to make every mutating method return an error
	Err error
	// LoadErrs makes LoadChunk fail for specific chunks
	LoadErrs map[area.ChunkCoord]error
	// WriteErrs makes mutations at specific positions fail
	WriteErrs map[area.Pos]error
	// Loads counts LoadChunk calls that actually loaded a chunk
	Loads int
}

// NewMockWorld creates an empty MockWorld.
func NewMockWorld() *MockWorld {
	return &MockWorld{
		chunks:    make(map[string]map[int64]*chunk),
		loaded:    make(map[string]area.ChunkSet),
		LoadErrs:  make(map[area.ChunkCoord]error),
		WriteErrs: make(map[area.Pos]error),
	}
}

func (m *MockWorld) chunkAt(world string, c area.ChunkCoord) *chunk {
	byKey, ok := m.chunks[world]
	if !ok {
		byKey = make(map[int64]*chunk)
		m.chunks[world] = byKey
	}
	ch, ok := byKey[c.Key()]
	if !ok {
		ch = newChunk(c)
		byKey[c.Key()] = ch
	}
	return ch
}

// loadedChunk returns the chunk for pos if it is loaded. Callers hold mu.
func (m *MockWorld) loadedChunk(world string, pos area.Pos) (*chunk, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if err := m.WriteErrs[pos]; err != nil {
		return nil, err
	}
	c := pos.Chunk()
	if !m.loaded[world].Has(c) {
		return nil, fmt.Errorf("%w: %s %s", ErrChunkNotLoaded, world, c)
	}
	return m.chunkAt(world, c), nil
}

// Preload marks chunks as loaded without counting a load.
func (m *MockWorld) Preload(world string, coords ...area.ChunkCoord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range coords {
		m.markLoaded(world, c)
	}
}

// Unload evicts a chunk while keeping its contents.
func (m *MockWorld) Unload(world string, c area.ChunkCoord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.loaded[world]; ok {
		delete(set, c.Key())
	}
}

func (m *MockWorld) markLoaded(world string, c area.ChunkCoord) {
	set, ok := m.loaded[world]
	if !ok {
		set = area.ChunkSet{}
		m.loaded[world] = set
	}
	set.Add(c)
	m.chunkAt(world, c)
}

// PutBlock sets a block regardless of chunk residency.
func (m *MockWorld) PutBlock(world string, pos area.Pos, state *models.BlockState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkAt(world, pos.Chunk()).setBlock(pos, state)
}

// Block returns a block regardless of chunk residency.
func (m *MockWorld) Block(world string, pos area.Pos) *models.BlockState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunkAt(world, pos.Chunk()).getBlock(pos)
}

// Items returns the contents of the container at pos.
func (m *MockWorld) Items(world string, pos area.Pos) []models.ItemStack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunkAt(world, pos.Chunk()).items(pos)
}

// Entities returns the entities standing at pos.
func (m *MockWorld) Entities(world string, pos area.Pos) []Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entity(nil), m.chunkAt(world, pos.Chunk()).entities[pos]...)
}

// IsChunkLoaded reports whether the chunk is loaded.
func (m *MockWorld) IsChunkLoaded(world string, c area.ChunkCoord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded[world].Has(c)
}

// LoadChunk marks a chunk as loaded, or returns its entry from LoadErrs.
func (m *MockWorld) LoadChunk(ctx context.Context, world string, c area.ChunkCoord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.LoadErrs[c]; err != nil {
		return err
	}
	if m.loaded[world].Has(c) {
		return nil
	}
	m.markLoaded(world, c)
	m.Loads++
	return nil
}

// GetBlock returns the block at pos, nil for air.
func (m *MockWorld) GetBlock(ctx context.Context, world string, pos area.Pos) (*models.BlockState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.loadedChunk(world, pos)
	if err != nil {
		return nil, err
	}
	return c.getBlock(pos), nil
}

// SetBlock replaces the block at pos.
func (m *MockWorld) SetBlock(ctx context.Context, world string, pos area.Pos, state *models.BlockState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.loadedChunk(world, pos)
	if err != nil {
		return err
	}
	c.setBlock(pos, state)
	return nil
}

// AddItem puts a stack into the container at pos.
func (m *MockWorld) AddItem(ctx context.Context, world string, pos area.Pos, stack models.ItemStack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.loadedChunk(world, pos)
	if err != nil {
		return err
	}
	return c.addItem(pos, stack)
}

// RemoveItem takes a stack out of the container at pos.
func (m *MockWorld) RemoveItem(ctx context.Context, world string, pos area.Pos, stack models.ItemStack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.loadedChunk(world, pos)
	if err != nil {
		return err
	}
	return c.removeItem(pos, stack)
}

// SpawnEntity adds an entity at pos.
func (m *MockWorld) SpawnEntity(ctx context.Context, world string, pos area.Pos, name string, snapshot nbt.Compound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.loadedChunk(world, pos)
	if err != nil {
		return err
	}
	c.spawn(pos, name, snapshot)
	return nil
}

// DespawnEntity removes one entity named name at pos.
func (m *MockWorld) DespawnEntity(ctx context.Context, world string, pos area.Pos, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.loadedChunk(world, pos)
	if err != nil {
		return err
	}
	return c.despawn(pos, name)
}

// Verify MockWorld implements Provider
var _ Provider = (*MockWorld)(nil)
