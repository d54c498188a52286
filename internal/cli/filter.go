package cli

import (
	"fmt"

	"github.com/kilupskalvis/blocklog/internal/actors"
	"github.com/kilupskalvis/blocklog/internal/api"
	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/core"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/spf13/cobra"
)

// filterFlags are the selection flags shared by lookup, rollback and restore.
type filterFlags struct {
	world   string
	since   string
	at      string
	radius  int
	from    string
	to      string
	actors  []string
	actions []string
	include []string
	exclude []string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.world, "world", "w", "", "World name (default from config)")
	fl.StringVarP(&f.since, "time", "t", "", "Time window, e.g. 30m, 2d, 1w3d (required)")
	fl.StringVar(&f.at, "at", "", "Center position x,y,z for --radius")
	fl.IntVarP(&f.radius, "radius", "r", 0, "Radius around --at")
	fl.StringVar(&f.from, "from", "", "First corner x,y,z of a box")
	fl.StringVar(&f.to, "to", "", "Second corner x,y,z of a box")
	fl.StringSliceVarP(&f.actors, "user", "u", nil, "Player UUIDs or causes like #fire")
	fl.StringSliceVarP(&f.actions, "action", "a", nil, "Actions to match (break, place, burn, ...)")
	fl.StringSliceVarP(&f.include, "include", "i", nil, "Only these blocks or items")
	fl.StringSliceVarP(&f.exclude, "exclude", "e", nil, "Skip these blocks or items")
	cmd.MarkFlagRequired("time")
}

// build converts the flags to an engine filter.
func (f *filterFlags) build(defaultWorld string) (core.Filter, error) {
	out := core.Filter{
		World:         f.world,
		IncludeBlocks: f.include,
		ExcludeBlocks: f.exclude,
	}
	if out.World == "" {
		out.World = defaultWorld
	}

	since, err := core.ParseWindow(f.since)
	if err != nil {
		return core.Filter{}, err
	}
	out.Since = since

	switch {
	case f.from != "" || f.to != "":
		if f.from == "" || f.to == "" {
			return core.Filter{}, fmt.Errorf("%w: --from and --to must be used together", core.ErrInvalidFilter)
		}
		if f.at != "" || f.radius != 0 {
			return core.Filter{}, fmt.Errorf("%w: --from/--to cannot be combined with --at/--radius", core.ErrInvalidFilter)
		}
		a, err := parsePos(f.from)
		if err != nil {
			return core.Filter{}, err
		}
		b, err := parsePos(f.to)
		if err != nil {
			return core.Filter{}, err
		}
		box := area.FromBox(out.World, a, b)
		out.Box = &box
	case f.at != "":
		c, err := parsePos(f.at)
		if err != nil {
			return core.Filter{}, err
		}
		out.Center = &c
		out.Radius = f.radius
	case f.radius != 0:
		return core.Filter{}, fmt.Errorf("%w: --radius needs --at", core.ErrInvalidFilter)
	}

	for _, a := range f.actors {
		out.Actors = append(out.Actors, actors.FilterID(a))
	}
	for _, name := range f.actions {
		a, err := models.ParseAction(name)
		if err != nil {
			return core.Filter{}, fmt.Errorf("%w: %v", core.ErrInvalidFilter, err)
		}
		out.Actions = append(out.Actions, a)
	}
	return out, nil
}

// request converts the flags to the API's filter form. World defaults are
// left to the server.
func (f *filterFlags) request() (api.FilterRequest, error) {
	req := api.FilterRequest{
		World:   f.world,
		Since:   f.since,
		Radius:  f.radius,
		Actors:  f.actors,
		Actions: f.actions,
		Include: f.include,
		Exclude: f.exclude,
	}
	for _, p := range []struct {
		in  string
		dst **api.Pos
	}{{f.at, &req.Center}, {f.from, &req.Min}, {f.to, &req.Max}} {
		if p.in == "" {
			continue
		}
		pos, err := parsePos(p.in)
		if err != nil {
			return api.FilterRequest{}, err
		}
		*p.dst = api.PosOf(pos)
	}
	return req, nil
}

// parsePos parses "x,y,z".
func parsePos(s string) (area.Pos, error) {
	p, err := area.ParsePos(s)
	if err != nil {
		return area.Pos{}, fmt.Errorf("%w: %v", core.ErrInvalidFilter, err)
	}
	return p, nil
}
