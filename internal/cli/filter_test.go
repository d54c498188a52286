package cli

import (
	"testing"
	"time"

	"github.com/kilupskalvis/blocklog/internal/actors"
	"github.com/kilupskalvis/blocklog/internal/api"
	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/core"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterFlags_Radius(t *testing.T) {
	f := filterFlags{since: "2h", at: "10, 64, -5", radius: 8, actors: []string{"#lava"}, actions: []string{"break"}}
	out, err := f.build("survival")
	require.NoError(t, err)

	assert.Equal(t, "survival", out.World)
	assert.Equal(t, 2*time.Hour, out.Since)
	require.NotNil(t, out.Center)
	assert.Equal(t, area.Pos{X: 10, Y: 64, Z: -5}, *out.Center)
	assert.Equal(t, 8, out.Radius)
	assert.Equal(t, []string{actors.EnvironmentID(actors.Lava)}, out.Actors)
	assert.Equal(t, []models.Action{models.ActionBreak}, out.Actions)
	assert.NoError(t, out.Validate())
}

func TestFilterFlags_Box(t *testing.T) {
	f := filterFlags{world: "nether", since: "1d", from: "5,0,5", to: "-5,10,-5"}
	out, err := f.build("world")
	require.NoError(t, err)
	require.NotNil(t, out.Box)
	assert.Equal(t, area.FromBox("nether", area.Pos{X: -5, Y: 0, Z: -5}, area.Pos{X: 5, Y: 10, Z: 5}), *out.Box)
}

func TestFilterFlags_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		flags filterFlags
	}{
		{"bad window", filterFlags{since: "soon"}},
		{"half box", filterFlags{since: "1h", from: "1,2,3"}},
		{"radius without center", filterFlags{since: "1h", radius: 5}},
		{"box with radius", filterFlags{since: "1h", from: "0,0,0", to: "4,4,4", at: "1,1,1", radius: 2}},
		{"bad position", filterFlags{since: "1h", at: "1,2"}},
		{"bad coordinate", filterFlags{since: "1h", at: "1,two,3"}},
		{"unknown action", filterFlags{since: "1h", actions: []string{"jump"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.flags.build("world")
			assert.ErrorIs(t, err, core.ErrInvalidFilter)
		})
	}
}

func TestFilterFlags_Request(t *testing.T) {
	f := filterFlags{since: "3d", at: "1,2,3", radius: 4, from: "0,0,0", to: "9,9,9", actors: []string{"#fire"}}
	req, err := f.request()
	require.NoError(t, err)
	assert.Equal(t, "3d", req.Since)
	assert.Equal(t, &api.Pos{X: 1, Y: 2, Z: 3}, req.Center)
	assert.Equal(t, &api.Pos{X: 9, Y: 9, Z: 9}, req.Max)
	assert.Equal(t, []string{"#fire"}, req.Actors, "causes are resolved by the server")

	bad := filterFlags{since: "1h", to: "1,2"}
	_, err = bad.request()
	assert.ErrorIs(t, err, core.ErrInvalidFilter)
}
