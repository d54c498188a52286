package core

import (
	"context"
	"testing"
	"time"

	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/kilupskalvis/blocklog/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_StampsEntries(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := testNow.Add(750 * time.Millisecond)
	rec := NewRecorder(st, func() time.Time { return now }, nil)

	e, err := rec.BlockPlaced(ctx, "alice", "w", area.Pos{X: 1}, nil, stone())
	require.NoError(t, err)
	assert.NotZero(t, e.ID)
	assert.Equal(t, testNow, e.Timestamp.UTC())
	assert.Equal(t, models.StateUnapplied, e.State)

	got, err := st.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Unix(), got.Timestamp.Unix())
	assert.Equal(t, models.ActionPlace, got.Action)
	bc := got.Change.(*models.BlockChange)
	assert.Nil(t, bc.Old)
	assert.Equal(t, "minecraft:stone", bc.New.Name)
}

func TestRecorder_RejectsEmptyChanges(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder(newTestStore(t), nil, nil)

	_, err := rec.BlockPlaced(ctx, "alice", "w", area.Pos{}, nil, nil)
	assert.ErrorIs(t, err, models.ErrInvalidEntry)

	_, err = rec.BlockBroken(ctx, "alice", "w", area.Pos{}, &models.BlockState{Name: models.AirBlock})
	assert.ErrorIs(t, err, models.ErrInvalidEntry)

	_, err = rec.ItemTransferred(ctx, "alice", "w", area.Pos{}, nil, nil)
	assert.ErrorIs(t, err, models.ErrInvalidEntry)

	_, err = rec.NaturalChange(ctx, models.ActionKill, "#fire", "w", area.Pos{}, stone(), nil)
	assert.ErrorIs(t, err, models.ErrInvalidEntry)

	_, err = rec.BlockBroken(ctx, "", "w", area.Pos{}, stone())
	assert.ErrorIs(t, err, models.ErrInvalidEntry)
}

func TestRecorder_NaturalChanges(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	rec := NewRecorder(st, func() time.Time { return testNow }, nil)

	_, err := rec.NaturalChange(ctx, models.ActionBurn, "#fire", "w", area.Pos{X: 1}, block("minecraft:oak_log"), nil)
	require.NoError(t, err)
	_, err = rec.NaturalChange(ctx, models.ActionFlow, "#water", "w", area.Pos{X: 2}, nil, block("minecraft:water"))
	require.NoError(t, err)

	rows, err := st.Query(ctx, store.Query{Actors: []string{"#fire"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ActionBurn, rows[0].Action)
}

func TestRecorder_ItemActions(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder(newTestStore(t), nil, nil)
	diamond := &models.ItemStack{Name: "minecraft:diamond", Count: 4}
	coal := &models.ItemStack{Name: "minecraft:coal", Count: 1}

	e, err := rec.ItemTransferred(ctx, "bob", "w", area.Pos{}, diamond, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionItemRemove, e.Action)
	assert.Equal(t, 4, e.Change.(*models.ItemTransfer).Amount)

	e, err = rec.ItemTransferred(ctx, "bob", "w", area.Pos{}, nil, coal)
	require.NoError(t, err)
	assert.Equal(t, models.ActionItemAdd, e.Action)

	e, err = rec.ItemTransferred(ctx, "bob", "w", area.Pos{}, diamond, coal)
	require.NoError(t, err)
	assert.Equal(t, models.ActionContainerClick, e.Action)
}
