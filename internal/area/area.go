// Package area maps world regions and positions to the chunks they touch.
package area

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ChunkSize is the horizontal edge length of a chunk in blocks.
const ChunkSize = 16

const chunkShift = 4

// ErrInvalidRadius is returned for a radius that is zero or negative.
var ErrInvalidRadius = errors.New("radius must be positive")

// Pos is an integer block position.
type Pos struct {
	X, Y, Z int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z)
}

// ParsePos parses the "x,y,z" form written by String.
func ParsePos(s string) (Pos, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Pos{}, fmt.Errorf("position %q must be x,y,z", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Pos{}, fmt.Errorf("position %q: %w", s, err)
		}
		v[i] = n
	}
	return Pos{X: v[0], Y: v[1], Z: v[2]}, nil
}

// Chunk returns the chunk containing the position.
func (p Pos) Chunk() ChunkCoord {
	return ChunkCoord{X: p.X >> chunkShift, Z: p.Z >> chunkShift}
}

// ChunkCoord addresses a 16x16 column of the world.
type ChunkCoord struct {
	X, Z int
}

// Key packs the coordinate into a single map key.
func (c ChunkCoord) Key() int64 {
	return int64(c.X)<<32 | int64(uint32(c.Z))
}

// CoordFromKey reverses Key.
func CoordFromKey(k int64) ChunkCoord {
	return ChunkCoord{X: int(int32(k >> 32)), Z: int(int32(uint32(k)))}
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("[%d,%d]", c.X, c.Z)
}

// Area is an axis-aligned box of blocks in one world. Min and Max are inclusive.
type Area struct {
	World string
	Min   Pos
	Max   Pos
}

// FromRadius builds the box of blocks within radius of center on every axis.
func FromRadius(world string, center Pos, radius int) (Area, error) {
	if radius <= 0 {
		return Area{}, fmt.Errorf("%w: %d", ErrInvalidRadius, radius)
	}
	return Area{
		World: world,
		Min:   Pos{X: center.X - radius, Y: center.Y - radius, Z: center.Z - radius},
		Max:   Pos{X: center.X + radius, Y: center.Y + radius, Z: center.Z + radius},
	}, nil
}

// FromBox builds an area from two corners in any order.
func FromBox(world string, a, b Pos) Area {
	return Area{
		World: world,
		Min:   Pos{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)},
		Max:   Pos{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)},
	}
}

// Whole returns an area covering every position in a world.
func Whole(world string) Area {
	return Area{
		World: world,
		Min:   Pos{X: math.MinInt, Y: math.MinInt, Z: math.MinInt},
		Max:   Pos{X: math.MaxInt, Y: math.MaxInt, Z: math.MaxInt},
	}
}

// Contains reports whether p lies inside the area.
func (a Area) Contains(p Pos) bool {
	return p.X >= a.Min.X && p.X <= a.Max.X &&
		p.Y >= a.Min.Y && p.Y <= a.Max.Y &&
		p.Z >= a.Min.Z && p.Z <= a.Max.Z
}

// Overlaps reports whether two areas in the same world share any block.
func (a Area) Overlaps(b Area) bool {
	if a.World != b.World {
		return false
	}
	return a.Min.X <= b.Max.X && b.Min.X <= a.Max.X &&
		a.Min.Y <= b.Max.Y && b.Min.Y <= a.Max.Y &&
		a.Min.Z <= b.Max.Z && b.Min.Z <= a.Max.Z
}

func (a Area) String() string {
	return fmt.Sprintf("%s(%s..%s)", a.World, a.Min, a.Max)
}

// ChunkSet is a deduplicated set of chunk coordinates keyed by ChunkCoord.Key.
type ChunkSet map[int64]ChunkCoord

// Add inserts a coordinate.
func (s ChunkSet) Add(c ChunkCoord) {
	s[c.Key()] = c
}

// Has reports whether the coordinate is in the set.
func (s ChunkSet) Has(c ChunkCoord) bool {
	_, ok := s[c.Key()]
	return ok
}

// Sorted returns the coordinates ordered by X then Z.
func (s ChunkSet) Sorted() []ChunkCoord {
	out := make([]ChunkCoord, 0, len(s))
	for _, c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out
}

// AllChunks returns every chunk whose footprint intersects the area. The box is
// walked in chunk-sized strides with the far edge visited explicitly, so a box
// narrower than a chunk may revisit a coordinate; the set absorbs repeats.
func AllChunks(a Area) ChunkSet {
	set := ChunkSet{}
	for x := a.Min.X; ; x += ChunkSize {
		if x > a.Max.X {
			x = a.Max.X
		}
		for z := a.Min.Z; ; z += ChunkSize {
			if z > a.Max.Z {
				z = a.Max.Z
			}
			set.Add(Pos{X: x, Z: z}.Chunk())
			if z == a.Max.Z {
				break
			}
		}
		if x == a.Max.X {
			break
		}
	}
	return set
}

// TouchedChunks returns the chunks containing the given positions.
func TouchedChunks(positions []Pos) ChunkSet {
	set := make(ChunkSet, len(positions)/4+1)
	for _, p := range positions {
		set.Add(p.Chunk())
	}
	return set
}
