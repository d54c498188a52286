package world

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/kilupskalvis/blocklog/internal/nbt"
	bolt "go.etcd.io/bbolt"
)

// BoltWorld is a Provider backed by a bbolt file. Each world is a bucket of
// compressed chunk compounds keyed by the packed chunk coordinate. Loaded
// chunks live in memory until Save writes the dirty ones back.
type BoltWorld struct {
	db     *bolt.DB
	logger *slog.Logger

	mu     sync.Mutex
	loaded map[string]map[int64]*chunk
}

// OpenBoltWorld opens or creates the world file at path.
func OpenBoltWorld(path string, logger *slog.Logger) (*BoltWorld, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create world directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open world database: %w", err)
	}
	return &BoltWorld{
		db:     db,
		logger: logger,
		loaded: make(map[string]map[int64]*chunk),
	}, nil
}

// Close saves dirty chunks and releases the file.
func (w *BoltWorld) Close() error {
	if w.db == nil {
		return nil
	}
	saveErr := w.Save(context.Background())
	if err := w.db.Close(); err != nil {
		return err
	}
	return saveErr
}

func bucketName(world string) []byte {
	return []byte("world:" + world)
}

func chunkKey(c area.ChunkCoord) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(c.Key()))
	return k
}

// IsChunkLoaded reports whether the chunk is in memory.
func (w *BoltWorld) IsChunkLoaded(world string, c area.ChunkCoord) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.loaded[world][c.Key()]
	return ok
}

// LoadChunk reads a chunk from disk. A chunk never saved loads as empty terrain.
func (w *BoltWorld) LoadChunk(ctx context.Context, world string, c area.ChunkCoord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.IsChunkLoaded(world, c) {
		return nil
	}

	var data []byte
	err := w.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(world))
		if b == nil {
			return nil
		}
		if v := b.Get(chunkKey(c)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read chunk %s %s: %w", world, c, err)
	}

	ch := newChunk(c)
	if data != nil {
		root, err := nbt.Decode(data)
		if err != nil {
			return fmt.Errorf("decode chunk %s %s: %w", world, c, err)
		}
		if ch, err = chunkFromCompound(root); err != nil {
			return fmt.Errorf("decode chunk %s %s: %w", world, c, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	byKey, ok := w.loaded[world]
	if !ok {
		byKey = make(map[int64]*chunk)
		w.loaded[world] = byKey
	}
	if _, ok := byKey[c.Key()]; !ok {
		byKey[c.Key()] = ch
	}
	return nil
}

// Save writes every dirty chunk in one transaction.
func (w *BoltWorld) Save(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	saved := 0
	err := w.db.Update(func(tx *bolt.Tx) error {
		for world, byKey := range w.loaded {
			var b *bolt.Bucket
			for _, ch := range byKey {
				if !ch.dirty {
					continue
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if b == nil {
					var err error
					if b, err = tx.CreateBucketIfNotExists(bucketName(world)); err != nil {
						return fmt.Errorf("create bucket for %s: %w", world, err)
					}
				}
				data, err := nbt.EncodeCompressed(ch.toCompound())
				if err != nil {
					return fmt.Errorf("encode chunk %s %s: %w", world, ch.coord, err)
				}
				if err := b.Put(chunkKey(ch.coord), data); err != nil {
					return err
				}
				saved++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}

	for _, byKey := range w.loaded {
		for _, ch := range byKey {
			ch.dirty = false
		}
	}
	if saved > 0 {
		w.logger.Debug("saved chunks", "count", saved)
	}
	return nil
}

// Unload saves and evicts every loaded chunk.
func (w *BoltWorld) Unload(ctx context.Context) error {
	if err := w.Save(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.loaded = make(map[string]map[int64]*chunk)
	w.mu.Unlock()
	return nil
}

// withChunk runs fn on the loaded chunk containing pos.
func (w *BoltWorld) withChunk(world string, pos area.Pos, fn func(c *chunk) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.loaded[world][pos.Chunk().Key()]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrChunkNotLoaded, world, pos.Chunk())
	}
	return fn(c)
}

// GetBlock returns the block at pos, nil for air.
func (w *BoltWorld) GetBlock(ctx context.Context, world string, pos area.Pos) (*models.BlockState, error) {
	var state *models.BlockState
	err := w.withChunk(world, pos, func(c *chunk) error {
		state = c.getBlock(pos)
		return nil
	})
	return state, err
}

// SetBlock replaces the block at pos.
func (w *BoltWorld) SetBlock(ctx context.Context, world string, pos area.Pos, state *models.BlockState) error {
	return w.withChunk(world, pos, func(c *chunk) error {
		c.setBlock(pos, state)
		return nil
	})
}

// AddItem puts a stack into the container at pos.
func (w *BoltWorld) AddItem(ctx context.Context, world string, pos area.Pos, stack models.ItemStack) error {
	return w.withChunk(world, pos, func(c *chunk) error { return c.addItem(pos, stack) })
}

// RemoveItem takes a stack out of the container at pos.
func (w *BoltWorld) RemoveItem(ctx context.Context, world string, pos area.Pos, stack models.ItemStack) error {
	return w.withChunk(world, pos, func(c *chunk) error { return c.removeItem(pos, stack) })
}

// SpawnEntity adds an entity at pos.
func (w *BoltWorld) SpawnEntity(ctx context.Context, world string, pos area.Pos, name string, snapshot nbt.Compound) error {
	return w.withChunk(world, pos, func(c *chunk) error {
		c.spawn(pos, name, snapshot)
		return nil
	})
}

// DespawnEntity removes one entity named name at pos.
func (w *BoltWorld) DespawnEntity(ctx context.Context, world string, pos area.Pos, name string) error {
	return w.withChunk(world, pos, func(c *chunk) error { return c.despawn(pos, name) })
}

// Items returns the contents of the container at pos.
func (w *BoltWorld) Items(world string, pos area.Pos) ([]models.ItemStack, error) {
	var items []models.ItemStack
	err := w.withChunk(world, pos, func(c *chunk) error {
		items = c.items(pos)
		return nil
	})
	return items, err
}

var _ Provider = (*BoltWorld)(nil)
