// Package core implements the rollback/restore engine and the recorder that
// turns game events into log entries.
package core

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/kilupskalvis/blocklog/internal/store"
)

// ErrInvalidFilter is returned before any I/O when a filter cannot be run.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter selects the log entries a rollback, restore or lookup works on.
// A filter is always scoped to one world.
type Filter struct {
	World string
	// Since is the window length; entries with timestamp >= now-Since match.
	Since time.Duration

	// Center and Radius bound the search to a cube. Box is used instead when set.
	Center *area.Pos
	Radius int
	Box    *area.Area

	Actors        []string
	Actions       []models.Action
	IncludeBlocks []string
	ExcludeBlocks []string
}

// Validate rejects filters that cannot be run.
func (f *Filter) Validate() error {
	if f.World == "" {
		return fmt.Errorf("%w: world is required", ErrInvalidFilter)
	}
	if f.Since <= 0 {
		return fmt.Errorf("%w: time window must be positive", ErrInvalidFilter)
	}
	if f.Radius < 0 || (f.Center != nil && f.Radius == 0) {
		return fmt.Errorf("%w: radius must be positive, got %d", ErrInvalidFilter, f.Radius)
	}
	if f.Radius != 0 && f.Center == nil {
		return fmt.Errorf("%w: radius needs a center", ErrInvalidFilter)
	}
	if f.Box != nil {
		if f.Center != nil {
			return fmt.Errorf("%w: use either a box or a center and radius", ErrInvalidFilter)
		}
		if f.Box.World != f.World {
			return fmt.Errorf("%w: box is in world %q, filter in %q", ErrInvalidFilter, f.Box.World, f.World)
		}
	}
	for _, a := range f.Actions {
		if !a.Valid() {
			return fmt.Errorf("%w: unknown action %d", ErrInvalidFilter, int(a))
		}
	}
	return nil
}

// Area returns the filter's bounding box, or false when it is unbounded.
func (f *Filter) Area() (area.Area, bool, error) {
	if f.Box != nil {
		return *f.Box, true, nil
	}
	if f.Center == nil {
		return area.Area{}, false, nil
	}
	a, err := area.FromRadius(f.World, *f.Center, f.Radius)
	if err != nil {
		return area.Area{}, false, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return a, true, nil
}

// Query converts the filter to a store query evaluated at now.
func (f *Filter) Query(now time.Time, order store.Order) (store.Query, error) {
	if err := f.Validate(); err != nil {
		return store.Query{}, err
	}
	q := store.Query{
		World:         f.World,
		Since:         now.Add(-f.Since),
		Actors:        f.Actors,
		Actions:       f.Actions,
		IncludeBlocks: f.IncludeBlocks,
		ExcludeBlocks: f.ExcludeBlocks,
		Order:         order,
	}
	box, ok, err := f.Area()
	if err != nil {
		return store.Query{}, err
	}
	if ok {
		q.Box = &box
	}
	return q, nil
}

// orderFor returns the replay order for a direction: newest first when
// undoing, oldest first when re-applying.
func orderFor(d models.Direction) store.Order {
	if d == models.DirectionRollback {
		return store.OrderDescending
	}
	return store.OrderAscending
}

var windowUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseWindow parses a time window such as "30m", "2d" or "1w3d12h".
// Units are s, m, h, d and w; every number needs a unit.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty time window", ErrInvalidFilter)
	}

	var total time.Duration
	for s != "" {
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 || i == len(s) {
			return 0, fmt.Errorf("%w: malformed time window %q", ErrInvalidFilter, s)
		}
		n, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		unit, ok := windowUnits[s[i]]
		if !ok {
			return 0, fmt.Errorf("%w: unknown time unit %q", ErrInvalidFilter, s[i])
		}
		if n > int(math.MaxInt64/unit) || time.Duration(n)*unit > math.MaxInt64-total {
			return 0, fmt.Errorf("%w: time window %q is too long", ErrInvalidFilter, s)
		}
		total += time.Duration(n) * unit
		s = s[i+1:]
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w: time window must be positive", ErrInvalidFilter)
	}
	return total, nil
}
