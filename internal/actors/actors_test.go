package actors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/blocklog/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alice = "3f0a8a7e-2b1c-4d5e-9f60-7a8b9c0d1e2f"

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return st
}

// memCache is an in-memory Cache that counts hits.
type memCache struct {
	names map[string]string
	hits  int
	err   error
}

func newMemCache() *memCache { return &memCache{names: make(map[string]string)} }

func (c *memCache) Get(_ context.Context, id string) (string, bool, error) {
	if c.err != nil {
		return "", false, c.err
	}
	n, ok := c.names[id]
	if ok {
		c.hits++
	}
	return n, ok, nil
}

func (c *memCache) Set(_ context.Context, id, name string) error {
	if c.err != nil {
		return c.err
	}
	c.names[id] = name
	return nil
}

// ==================== Id Tests ====================

func TestEnvironmentID_StableAndDistinct(t *testing.T) {
	fire := EnvironmentID(Fire)
	assert.Equal(t, fire, EnvironmentID(Fire))
	assert.Equal(t, fire, EnvironmentID("fire"))
	assert.NotEqual(t, fire, EnvironmentID(Water))

	u, err := uuid.Parse(fire)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), u.Version())

	assert.True(t, IsEnvironment(fire))
	assert.False(t, IsEnvironment(alice))
}

func TestValidatePlayerID(t *testing.T) {
	assert.NoError(t, ValidatePlayerID(alice))
	assert.ErrorIs(t, ValidatePlayerID("Steve"), ErrInvalidActor)
	assert.ErrorIs(t, ValidatePlayerID("{"+alice+"}"), ErrInvalidActor)
}

// ==================== Resolver Tests ====================

func TestResolver_StoreOnly(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(newTestStore(t), nil, nil)

	assert.Equal(t, alice, r.DisplayName(ctx, alice), "unknown ids fall back to the id")
	require.NoError(t, r.Remember(ctx, alice, "Alice"))
	assert.Equal(t, "Alice", r.DisplayName(ctx, alice))

	assert.Equal(t, Lava, r.DisplayName(ctx, EnvironmentID(Lava)))
	assert.Equal(t, "#custom", r.DisplayName(ctx, "#custom"))
	assert.ErrorIs(t, r.Remember(ctx, "not-a-uuid", "x"), ErrInvalidActor)
}

func TestResolver_ReadThroughCache(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveActor(ctx, alice, "Alice"))
	cache := newMemCache()
	r := NewResolver(st, cache, nil)

	assert.Equal(t, "Alice", r.DisplayName(ctx, alice))
	assert.Equal(t, 0, cache.hits)
	assert.Equal(t, "Alice", cache.names[alice], "store hit fills the cache")

	assert.Equal(t, "Alice", r.DisplayName(ctx, alice))
	assert.Equal(t, 1, cache.hits)
}

func TestResolver_CacheFailureFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	cache.err = errors.New("connection refused")
	r := NewResolver(newTestStore(t), cache, nil)

	require.NoError(t, r.Remember(ctx, alice, "Alice"))
	assert.Equal(t, "Alice", r.DisplayName(ctx, alice))
}

// ==================== Redis Tests ====================

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()

	cfg := DefaultRedisConfig(addr)
	cfg.Prefix = "blocklog:test:" + uuid.NewString() + ":"
	cfg.TTL = time.Minute
	c, err := NewRedisCache(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get(ctx, alice)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, alice, "Alice"))
	name, ok, err := c.Get(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	cfg := DefaultRedisConfig("127.0.0.1:1")
	cfg.Timeout = 200 * time.Millisecond
	_, err := NewRedisCache(cfg)
	assert.Error(t, err)
}

func TestFilterID(t *testing.T) {
	assert.Equal(t, EnvironmentID(Fire), FilterID("#fire"))
	assert.Equal(t, alice, FilterID(strings.ToUpper(alice)))
}
