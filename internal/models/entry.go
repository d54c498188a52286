package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/blocklog/internal/area"
)

// ErrInvalidEntry is returned when an entry cannot be recorded as built.
var ErrInvalidEntry = errors.New("invalid log entry")

// LogEntry is one recorded world change. Only State changes after insert.
type LogEntry struct {
	ID        int64         `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	World     string        `json:"world"`
	Pos       area.Pos      `json:"pos"`
	Actor     string        `json:"actor"`
	Action    Action        `json:"action"`
	State     RollbackState `json:"rollback_state"`
	Change    Change        `json:"-"`

	// DecodeErr is set when the stored payload could not be decoded; Change
	// is nil in that case.
	DecodeErr error `json:"-"`
}

// Validate checks the entry before it is written.
func (e *LogEntry) Validate() error {
	if e.World == "" {
		return fmt.Errorf("%w: empty world", ErrInvalidEntry)
	}
	if e.Actor == "" {
		return fmt.Errorf("%w: empty actor", ErrInvalidEntry)
	}
	if !e.Action.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, e.Action)
	}
	if !e.State.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, e.State)
	}
	if e.Change == nil {
		return fmt.Errorf("%w: %s without change", ErrInvalidEntry, e.Action)
	}
	if err := checkShape(e.Action, e.Change); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

// Corrupted reports whether the entry lacks the state its action requires.
func (e *LogEntry) Corrupted() bool {
	if e.DecodeErr != nil || e.Change == nil {
		return true
	}
	return e.Change.Empty()
}

// ChunkOf returns the chunk the entry's position falls in.
func (e *LogEntry) ChunkOf() area.ChunkCoord {
	return e.Pos.Chunk()
}

func checkShape(a Action, c Change) error {
	switch c.(type) {
	case *BlockChange:
		if a.Category() == CategoryPlacement || a.Category() == CategoryRemoval {
			return nil
		}
	case *ItemTransfer:
		if a.Category() == CategoryItem {
			return nil
		}
	case *EntityKill:
		if a.Category() == CategoryKill {
			return nil
		}
	}
	return fmt.Errorf("%s cannot carry %T", a, c)
}
