package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kilupskalvis/blocklog/internal/area"
)

// ErrRegionBusy is returned when another run is applying changes to an
// overlapping region of the same world.
var ErrRegionBusy = errors.New("region is being modified by another operation")

// regionLocks is an advisory lock table keyed by world bounding box.
type regionLocks struct {
	mu   sync.Mutex
	next uint64
	held map[uint64]area.Area
}

func newRegionLocks() *regionLocks {
	return &regionLocks{held: make(map[uint64]area.Area)}
}

// acquire claims a region or fails immediately if it overlaps a held one.
func (l *regionLocks) acquire(a area.Area) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, h := range l.held {
		if h.Overlaps(a) {
			return nil, fmt.Errorf("%w: %s overlaps %s", ErrRegionBusy, a, h)
		}
	}
	l.next++
	id := l.next
	l.held[id] = a

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, nil
}
