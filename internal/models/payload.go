package models

import (
	"fmt"

	"github.com/kilupskalvis/blocklog/internal/nbt"
)

// AirBlock is the block name a position holds when nothing else is there.
const AirBlock = "minecraft:air"

// BlockState is a block id, its metadata and optional tile entity data.
type BlockState struct {
	Name string
	Meta int
	Tile nbt.Compound
}

// IsAir reports whether the state is empty space.
func (b *BlockState) IsAir() bool {
	return b == nil || b.Name == "" || b.Name == AirBlock
}

// ToCompound converts the state to its stored form.
func (b *BlockState) ToCompound() nbt.Compound {
	c := nbt.Compound{"name": b.Name, "meta": int32(b.Meta)}
	if b.Tile != nil {
		c["tile"] = b.Tile
	}
	return c
}

// BlockStateFromCompound parses a stored block state.
func BlockStateFromCompound(c nbt.Compound) (*BlockState, error) {
	name, ok := c.String("name")
	if !ok {
		return nil, fmt.Errorf("%w: block without name", nbt.ErrCorrupted)
	}
	meta, _ := c.Int("meta")
	tile, _ := c.Compound("tile")
	return &BlockState{Name: name, Meta: int(meta), Tile: tile}, nil
}

// ItemStack is an item id with metadata, a count and optional item tag.
type ItemStack struct {
	Name  string
	Meta  int
	Count int
	Tag   nbt.Compound
}

// ToCompound converts the stack to its stored form.
func (s *ItemStack) ToCompound() nbt.Compound {
	c := nbt.Compound{"name": s.Name, "meta": int32(s.Meta), "count": int32(s.Count)}
	if s.Tag != nil {
		c["tag"] = s.Tag
	}
	return c
}

// ItemStackFromCompound parses a stored item stack.
func ItemStackFromCompound(c nbt.Compound) (*ItemStack, error) {
	name, ok := c.String("name")
	if !ok {
		return nil, fmt.Errorf("%w: item without name", nbt.ErrCorrupted)
	}
	meta, _ := c.Int("meta")
	count, _ := c.Int("count")
	tag, _ := c.Compound("tag")
	return &ItemStack{Name: name, Meta: int(meta), Count: int(count), Tag: tag}, nil
}

// Change is the decoded payload of a log entry. The concrete types are
// BlockChange, ItemTransfer and EntityKill.
type Change interface {
	// Empty reports whether neither side of the change is populated.
	Empty() bool
	isChange()
}

// BlockChange replaces Old with New at the entry's position. A nil side is air.
type BlockChange struct {
	Old *BlockState
	New *BlockState
}

func (c *BlockChange) Empty() bool { return c.Old == nil && c.New == nil }
func (*BlockChange) isChange()     {}

// ItemTransfer moves items in or out of the container at the entry's position:
// Old left the container, New entered it.
type ItemTransfer struct {
	Old    *ItemStack
	New    *ItemStack
	Amount int
}

func (c *ItemTransfer) Empty() bool { return c.Old == nil && c.New == nil }
func (*ItemTransfer) isChange()     {}

// EntityKill records an entity killed at the entry's position.
type EntityKill struct {
	Target   string
	Snapshot nbt.Compound
}

func (c *EntityKill) Empty() bool { return c.Target == "" }
func (*EntityKill) isChange()     {}

// OldName returns the name of the replaced state, if any.
func OldName(c Change) string {
	switch v := c.(type) {
	case *BlockChange:
		if v.Old != nil {
			return v.Old.Name
		}
	case *ItemTransfer:
		if v.Old != nil {
			return v.Old.Name
		}
	case *EntityKill:
		return v.Target
	}
	return ""
}

// NewName returns the name of the produced state, if any.
func NewName(c Change) string {
	switch v := c.(type) {
	case *BlockChange:
		if v.New != nil {
			return v.New.Name
		}
	case *ItemTransfer:
		if v.New != nil {
			return v.New.Name
		}
	}
	return ""
}

// EncodePayloads serializes both sides of a change. A missing side yields nil.
func EncodePayloads(c Change) (oldData, newData []byte) {
	switch v := c.(type) {
	case *BlockChange:
		if v.Old != nil {
			oldData = nbt.MustEncode(v.Old.ToCompound())
		}
		if v.New != nil {
			newData = nbt.MustEncode(v.New.ToCompound())
		}
	case *ItemTransfer:
		if v.Old != nil {
			oldData = nbt.MustEncode(v.Old.ToCompound())
		}
		if v.New != nil {
			newData = nbt.MustEncode(v.New.ToCompound())
		}
	case *EntityKill:
		if v.Snapshot != nil {
			oldData = nbt.MustEncode(v.Snapshot)
		}
	}
	return oldData, newData
}

// DecodeChange rebuilds the change variant for action from stored payloads.
// target and amount come from the entry's denormalized columns.
func DecodeChange(a Action, oldPayload, newPayload []byte, target string, amount int) (Change, error) {
	switch a.Category() {
	case CategoryKill:
		kill := &EntityKill{Target: target}
		if oldPayload != nil {
			snap, err := nbt.Decode(oldPayload)
			if err != nil {
				return nil, fmt.Errorf("decode entity snapshot: %w", err)
			}
			kill.Snapshot = snap
		}
		return kill, nil

	case CategoryItem:
		t := &ItemTransfer{Amount: amount}
		var err error
		if t.Old, err = decodeItem(oldPayload); err != nil {
			return nil, fmt.Errorf("decode old item: %w", err)
		}
		if t.New, err = decodeItem(newPayload); err != nil {
			return nil, fmt.Errorf("decode new item: %w", err)
		}
		return t, nil

	default:
		b := &BlockChange{}
		var err error
		if b.Old, err = decodeBlock(oldPayload); err != nil {
			return nil, fmt.Errorf("decode old block: %w", err)
		}
		if b.New, err = decodeBlock(newPayload); err != nil {
			return nil, fmt.Errorf("decode new block: %w", err)
		}
		return b, nil
	}
}

func decodeBlock(data []byte) (*BlockState, error) {
	if data == nil {
		return nil, nil
	}
	c, err := nbt.Decode(data)
	if err != nil {
		return nil, err
	}
	return BlockStateFromCompound(c)
}

func decodeItem(data []byte) (*ItemStack, error) {
	if data == nil {
		return nil, nil
	}
	c, err := nbt.Decode(data)
	if err != nil {
		return nil, err
	}
	return ItemStackFromCompound(c)
}
