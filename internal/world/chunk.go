package world

import (
	"fmt"
	"sort"

	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/kilupskalvis/blocklog/internal/nbt"
)

// chunk is the in-memory state of one 16x16 column. Positions absent from
// blocks are air.
type chunk struct {
	coord      area.ChunkCoord
	blocks     map[area.Pos]*models.BlockState
	containers map[area.Pos][]models.ItemStack
	entities   map[area.Pos][]Entity
	dirty      bool
}

func newChunk(c area.ChunkCoord) *chunk {
	return &chunk{
		coord:      c,
		blocks:     make(map[area.Pos]*models.BlockState),
		containers: make(map[area.Pos][]models.ItemStack),
		entities:   make(map[area.Pos][]Entity),
	}
}

func (c *chunk) getBlock(pos area.Pos) *models.BlockState {
	b := c.blocks[pos]
	if b == nil {
		return nil
	}
	cp := *b
	cp.Tile = b.Tile.Clone()
	return &cp
}

func (c *chunk) setBlock(pos area.Pos, state *models.BlockState) {
	c.dirty = true
	if state.IsAir() {
		delete(c.blocks, pos)
		delete(c.containers, pos)
		return
	}
	cp := *state
	cp.Tile = state.Tile.Clone()
	c.blocks[pos] = &cp
	if !IsContainer(state.Name) {
		delete(c.containers, pos)
	}
}

func (c *chunk) addItem(pos area.Pos, stack models.ItemStack) error {
	b := c.blocks[pos]
	if b == nil || !IsContainer(b.Name) {
		return fmt.Errorf("%w: %s", ErrNoContainer, pos)
	}
	items := c.containers[pos]
	for i := range items {
		if sameItem(items[i], stack) {
			items[i].Count += stack.Count
			c.dirty = true
			return nil
		}
	}
	stack.Tag = stack.Tag.Clone()
	c.containers[pos] = append(items, stack)
	c.dirty = true
	return nil
}

func (c *chunk) removeItem(pos area.Pos, stack models.ItemStack) error {
	b := c.blocks[pos]
	if b == nil || !IsContainer(b.Name) {
		return fmt.Errorf("%w: %s", ErrNoContainer, pos)
	}
	items := c.containers[pos]
	for i := range items {
		if !sameItem(items[i], stack) {
			continue
		}
		if items[i].Count < stack.Count {
			return fmt.Errorf("%w: have %d %s, need %d", ErrInsufficientItems, items[i].Count, stack.Name, stack.Count)
		}
		items[i].Count -= stack.Count
		if items[i].Count == 0 {
			items = append(items[:i], items[i+1:]...)
		}
		if len(items) == 0 {
			delete(c.containers, pos)
		} else {
			c.containers[pos] = items
		}
		c.dirty = true
		return nil
	}
	return fmt.Errorf("%w: no %s", ErrInsufficientItems, stack.Name)
}

func (c *chunk) items(pos area.Pos) []models.ItemStack {
	return append([]models.ItemStack(nil), c.containers[pos]...)
}

func (c *chunk) spawn(pos area.Pos, name string, data nbt.Compound) {
	c.entities[pos] = append(c.entities[pos], Entity{Name: name, Data: data.Clone()})
	c.dirty = true
}

func (c *chunk) despawn(pos area.Pos, name string) error {
	list := c.entities[pos]
	for i, e := range list {
		if e.Name != name {
			continue
		}
		list = append(list[:i], list[i+1:]...)
		if len(list) == 0 {
			delete(c.entities, pos)
		} else {
			c.entities[pos] = list
		}
		c.dirty = true
		return nil
	}
	return fmt.Errorf("%w: %s at %s", ErrNoEntity, name, pos)
}

func sameItem(a, b models.ItemStack) bool {
	return a.Name == b.Name && a.Meta == b.Meta
}

// toCompound serializes the chunk with positions in a stable order.
func (c *chunk) toCompound() nbt.Compound {
	blocks := nbt.List{Type: nbt.TagCompound}
	for _, pos := range sortedPositions(c.blocks) {
		entry := c.blocks[pos].ToCompound()
		putPos(entry, pos)
		blocks.Items = append(blocks.Items, entry)
	}

	containers := nbt.List{Type: nbt.TagCompound}
	for _, pos := range sortedPositions(c.containers) {
		items := nbt.List{Type: nbt.TagCompound}
		for i := range c.containers[pos] {
			items.Items = append(items.Items, c.containers[pos][i].ToCompound())
		}
		entry := nbt.Compound{"items": items}
		putPos(entry, pos)
		containers.Items = append(containers.Items, entry)
	}

	entities := nbt.List{Type: nbt.TagCompound}
	for _, pos := range sortedPositions(c.entities) {
		for _, e := range c.entities[pos] {
			entry := nbt.Compound{"name": e.Name}
			if e.Data != nil {
				entry["data"] = e.Data
			}
			putPos(entry, pos)
			entities.Items = append(entities.Items, entry)
		}
	}

	return nbt.Compound{
		"x":          int32(c.coord.X),
		"z":          int32(c.coord.Z),
		"blocks":     blocks,
		"containers": containers,
		"entities":   entities,
	}
}

func chunkFromCompound(root nbt.Compound) (*chunk, error) {
	x, okX := root.Int("x")
	z, okZ := root.Int("z")
	if !okX || !okZ {
		return nil, fmt.Errorf("%w: chunk without coordinates", nbt.ErrCorrupted)
	}
	c := newChunk(area.ChunkCoord{X: int(x), Z: int(z)})

	for _, entry := range compoundItems(root, "blocks") {
		state, err := models.BlockStateFromCompound(entry)
		if err != nil {
			return nil, err
		}
		c.blocks[getPos(entry)] = state
	}
	for _, entry := range compoundItems(root, "containers") {
		pos := getPos(entry)
		for _, item := range compoundItems(entry, "items") {
			stack, err := models.ItemStackFromCompound(item)
			if err != nil {
				return nil, err
			}
			c.containers[pos] = append(c.containers[pos], *stack)
		}
	}
	for _, entry := range compoundItems(root, "entities") {
		name, ok := entry.String("name")
		if !ok {
			return nil, fmt.Errorf("%w: entity without name", nbt.ErrCorrupted)
		}
		data, _ := entry.Compound("data")
		pos := getPos(entry)
		c.entities[pos] = append(c.entities[pos], Entity{Name: name, Data: data})
	}
	return c, nil
}

func compoundItems(c nbt.Compound, key string) []nbt.Compound {
	l, ok := c[key].(nbt.List)
	if !ok {
		return nil
	}
	out := make([]nbt.Compound, 0, len(l.Items))
	for _, item := range l.Items {
		if cc, ok := item.(nbt.Compound); ok {
			out = append(out, cc)
		}
	}
	return out
}

func putPos(c nbt.Compound, pos area.Pos) {
	c["px"] = int32(pos.X)
	c["py"] = int32(pos.Y)
	c["pz"] = int32(pos.Z)
}

func getPos(c nbt.Compound) area.Pos {
	x, _ := c.Int("px")
	y, _ := c.Int("py")
	z, _ := c.Int("pz")
	return area.Pos{X: int(x), Y: int(y), Z: int(z)}
}

func sortedPositions[V any](m map[area.Pos]V) []area.Pos {
	out := make([]area.Pos, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})
	return out
}
