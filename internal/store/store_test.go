package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := New(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return st
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func blockEntry(pos area.Pos, actor string, action models.Action, oldName, newName string, at time.Time) *models.LogEntry {
	c := &models.BlockChange{}
	if oldName != "" {
		c.Old = &models.BlockState{Name: oldName}
	}
	if newName != "" {
		c.New = &models.BlockState{Name: newName}
	}
	return &models.LogEntry{
		Timestamp: at,
		World:     "overworld",
		Pos:       pos,
		Actor:     actor,
		Action:    action,
		Change:    c,
	}
}

func insertAll(t *testing.T, st *Store, entries ...*models.LogEntry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, st.Insert(context.Background(), e))
	}
}

// ==================== Store Tests ====================

func TestStore_Initialize(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	st, err := New(dbPath, nil)
	require.NoError(t, err)
	defer st.Close()

	version, err := st.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	require.NoError(t, st.Initialize())
	version, err = st.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)

	// Running again is a no-op
	require.NoError(t, st.Initialize())
}

func TestStore_MigrationsRefusedInsideBatch(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Begin())
	assert.Error(t, st.RunMigrations())
	require.NoError(t, st.End())
}

// ==================== Entry Tests ====================

func TestInsert_AssignsIncreasingIDs(t *testing.T) {
	st := newTestStore(t)
	a := blockEntry(area.Pos{X: 1, Y: 64, Z: 1}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime)
	b := blockEntry(area.Pos{X: 2, Y: 64, Z: 1}, "alice", models.ActionPlace, "", "minecraft:dirt", baseTime)
	insertAll(t, st, a, b)

	assert.Greater(t, a.ID, int64(0))
	assert.Greater(t, b.ID, a.ID)
}

func TestInsert_RejectsInvalidEntry(t *testing.T) {
	st := newTestStore(t)
	e := blockEntry(area.Pos{}, "", models.ActionPlace, "", "minecraft:stone", baseTime)
	err := st.Insert(context.Background(), e)
	assert.ErrorIs(t, err, models.ErrInvalidEntry)
}

func TestGet_RoundTripsAllVariants(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	block := blockEntry(area.Pos{X: -5, Y: 12, Z: 40}, "alice", models.ActionBreak, "minecraft:chest", "", baseTime)
	block.Change.(*models.BlockChange).Old.Tile = map[string]any{"lock": "key"}

	item := &models.LogEntry{
		Timestamp: baseTime, World: "overworld", Pos: area.Pos{X: 3}, Actor: "bob",
		Action: models.ActionItemRemove,
		Change: &models.ItemTransfer{Old: &models.ItemStack{Name: "minecraft:diamond", Count: 3}, Amount: 3},
	}
	kill := &models.LogEntry{
		Timestamp: baseTime, World: "overworld", Pos: area.Pos{Y: 70}, Actor: "carol",
		Action: models.ActionKill,
		Change: &models.EntityKill{Target: "minecraft:cow", Snapshot: map[string]any{"health": float32(10)}},
	}
	insertAll(t, st, block, item, kill)

	got, err := st.Get(ctx, block.ID)
	require.NoError(t, err)
	require.NoError(t, got.DecodeErr)
	assert.Equal(t, block.Pos, got.Pos)
	assert.Equal(t, baseTime.Unix(), got.Timestamp.Unix())
	bc := got.Change.(*models.BlockChange)
	assert.Nil(t, bc.New)
	assert.Equal(t, "minecraft:chest", bc.Old.Name)
	assert.Equal(t, "key", bc.Old.Tile["lock"])

	got, err = st.Get(ctx, item.ID)
	require.NoError(t, err)
	it := got.Change.(*models.ItemTransfer)
	assert.Equal(t, 3, it.Amount)
	assert.Equal(t, 3, it.Old.Count)

	got, err = st.Get(ctx, kill.ID)
	require.NoError(t, err)
	k := got.Change.(*models.EntityKill)
	assert.Equal(t, "minecraft:cow", k.Target)
	assert.Equal(t, float32(10), k.Snapshot["health"])

	_, err = st.Get(ctx, 9999)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestQuery_CorruptedPayloadSetsDecodeErr(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	e := blockEntry(area.Pos{}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime)
	insertAll(t, st, e)

	_, err := st.db.Exec("UPDATE log_entries SET new_payload = ? WHERE id = ?", []byte{0x0a, 0xff}, e.ID)
	require.NoError(t, err)

	rows, err := st.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Error(t, rows[0].DecodeErr)
	assert.True(t, rows[0].Corrupted())
}

func TestQuery_Ordering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		insertAll(t, st, blockEntry(area.Pos{X: i}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime))
	}

	asc, err := st.Query(ctx, Query{Order: OrderAscending})
	require.NoError(t, err)
	desc, err := st.Query(ctx, Query{Order: OrderDescending})
	require.NoError(t, err)
	require.Len(t, asc, 5)
	require.Len(t, desc, 5)
	for i := range asc {
		assert.Equal(t, asc[i].ID, desc[len(desc)-1-i].ID)
	}
	assert.Less(t, asc[0].ID, asc[4].ID)
}

func TestQuery_Filters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := baseTime.Add(-2 * time.Hour)
	insertAll(t, st,
		blockEntry(area.Pos{X: 0, Y: 64, Z: 0}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime),
		blockEntry(area.Pos{X: 5, Y: 64, Z: 5}, "bob", models.ActionBreak, "minecraft:dirt", "", baseTime),
		blockEntry(area.Pos{X: 50, Y: 64, Z: 50}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime),
		blockEntry(area.Pos{X: 1, Y: 64, Z: 1}, "alice", models.ActionFlow, "", "minecraft:water", old),
	)
	nether := blockEntry(area.Pos{}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime)
	nether.World = "nether"
	insertAll(t, st, nether)

	box, err := area.FromRadius("overworld", area.Pos{Y: 64}, 10)
	require.NoError(t, err)

	tests := []struct {
		name string
		q    Query
		want int
	}{
		{"all", Query{}, 5},
		{"world", Query{World: "overworld"}, 4},
		{"since", Query{World: "overworld", Since: baseTime.Add(-time.Hour)}, 3},
		{"box", Query{World: "overworld", Box: &box}, 3},
		{"actor", Query{World: "overworld", Actors: []string{"bob"}}, 1},
		{"actions", Query{World: "overworld", Actions: []models.Action{models.ActionBreak, models.ActionFlow}}, 2},
		{"include matches old side", Query{IncludeBlocks: []string{"minecraft:dirt"}}, 1},
		{"include matches new side", Query{World: "overworld", IncludeBlocks: []string{"minecraft:stone"}}, 2},
		{"exclude with null names", Query{World: "overworld", ExcludeBlocks: []string{"minecraft:stone"}}, 2},
		{"combined", Query{World: "overworld", Box: &box, Actors: []string{"alice"}, Since: baseTime.Add(-time.Hour)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := st.Query(ctx, tt.q)
			require.NoError(t, err)
			assert.Len(t, rows, tt.want)

			n, err := st.Count(ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestQuery_LimitOffset(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		insertAll(t, st, blockEntry(area.Pos{X: i}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime))
	}

	page, err := st.Query(ctx, Query{Order: OrderDescending, Limit: 4, Offset: 8})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 1, page[0].Pos.X)
	assert.Equal(t, 0, page[1].Pos.X)

	n, err := st.Count(ctx, Query{Limit: 4, Offset: 8})
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestSetRollbackState(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	e := blockEntry(area.Pos{}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime)
	insertAll(t, st, e)

	require.NoError(t, st.SetRollbackState(ctx, e.ID, models.StateRolledBack))
	got, err := st.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRolledBack, got.State)

	assert.ErrorIs(t, st.SetRollbackState(ctx, 12345, models.StateRestored), ErrEntryNotFound)
	assert.Error(t, st.SetRollbackState(ctx, e.ID, models.RollbackState(9)))
}

func TestPurge(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertAll(t, st,
		blockEntry(area.Pos{}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime.Add(-48*time.Hour)),
		blockEntry(area.Pos{}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime.Add(-30*time.Hour)),
		blockEntry(area.Pos{}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime),
	)

	n, err := st.Purge(ctx, baseTime.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	remaining, err := st.Count(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

// ==================== Actor Tests ====================

func TestActors(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.ActorName(ctx, "missing")
	assert.ErrorIs(t, err, ErrActorNotFound)

	require.NoError(t, st.SaveActor(ctx, "id-1", "Alice"))
	require.NoError(t, st.SaveActor(ctx, "id-1", "Alicia"))

	name, err := st.ActorName(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", name)

	assert.Error(t, st.SaveActor(ctx, "", "nobody"))
}

// ==================== Batch Tests ====================

func TestBatch_ReadsSeeUncommittedWrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Begin())
	assert.ErrorIs(t, st.Begin(), ErrBatchOpen)
	assert.True(t, st.InBatch())

	e := blockEntry(area.Pos{}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime)
	insertAll(t, st, e)
	require.NoError(t, st.SetRollbackState(ctx, e.ID, models.StateRolledBack))
	assert.Equal(t, 2, st.Pending())

	got, err := st.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRolledBack, got.State)

	require.NoError(t, st.End())
	assert.False(t, st.InBatch())
	assert.Equal(t, 0, st.Pending())

	n, err := st.Count(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatch_CommittedWritesSurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := New(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())

	require.NoError(t, st.Begin())
	insertAll(t, st, blockEntry(area.Pos{}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime))
	require.NoError(t, st.Close())

	st, err = New(dbPath, nil)
	require.NoError(t, err)
	defer st.Close()

	n, err := st.Count(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatch_EndWithoutBeginIsNoop(t *testing.T) {
	st := newTestStore(t)
	assert.NoError(t, st.End())
}

func TestCommitError_Unwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&CommitError{Lost: 7, Err: cause})

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "7 writes lost")

	var ce *CommitError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 7, ce.Lost)
}

func TestBatcher_FlushAndStop(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	b := NewBatcher(st, time.Hour, nil)
	assert.Error(t, b.Flush())

	require.NoError(t, b.Start(ctx))
	assert.Error(t, b.Start(ctx))
	assert.True(t, st.InBatch())

	insertAll(t, st, blockEntry(area.Pos{}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime))
	assert.Equal(t, 1, st.Pending())

	require.NoError(t, b.Flush())
	assert.True(t, st.InBatch(), "flush reopens the batch")
	assert.Equal(t, 0, st.Pending())

	require.NoError(t, b.Stop())
	assert.False(t, st.InBatch(), "stop commits without reopening")
	assert.NoError(t, b.Stop())
}

func TestBatcher_FailedCommitLosesBatchAndReopens(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// a deferred foreign key is only checked at COMMIT
	_, err := st.db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	_, err = st.db.Exec(`CREATE TABLE parent (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = st.db.Exec(`CREATE TABLE child (
		parent_id INTEGER REFERENCES parent(id) DEFERRABLE INITIALLY DEFERRED
	)`)
	require.NoError(t, err)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	b := NewBatcher(st, time.Hour, logger)
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	insertAll(t, st,
		blockEntry(area.Pos{X: 1}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime),
		blockEntry(area.Pos{X: 2}, "alice", models.ActionPlace, "", "minecraft:dirt", baseTime),
	)
	_, err = st.tx.Exec("INSERT INTO child (parent_id) VALUES (42)")
	require.NoError(t, err)

	err = b.Flush()
	var ce *CommitError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Lost)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, st.InBatch(), "a new batch is open after the failure")
	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "writes lost")

	insertAll(t, st, blockEntry(area.Pos{X: 3}, "bob", models.ActionBreak, "minecraft:sand", "", baseTime))
	require.NoError(t, b.Flush())

	n, err := st.Count(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the write after the failed commit survives")
}

func TestBatcher_TickerCommits(t *testing.T) {
	st := newTestStore(t)

	b := NewBatcher(st, 10*time.Millisecond, nil)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	insertAll(t, st, blockEntry(area.Pos{}, "alice", models.ActionPlace, "", "minecraft:stone", baseTime))

	assert.Eventually(t, func() bool { return st.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBatcher_RejectsNonPositiveInterval(t *testing.T) {
	st := newTestStore(t)
	b := NewBatcher(st, 0, nil)
	assert.Error(t, b.Start(context.Background()))
	assert.False(t, st.InBatch())
}
