package models

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a rollback state cannot move in the
// requested direction.
var ErrIllegalTransition = errors.New("illegal rollback state transition")

// Direction is the way an engine run replays history.
type Direction int

const (
	// DirectionRollback undoes entries, newest first.
	DirectionRollback Direction = iota
	// DirectionRestore re-applies rolled back entries, oldest first.
	DirectionRestore
)

func (d Direction) String() string {
	switch d {
	case DirectionRollback:
		return "rollback"
	case DirectionRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// RollbackState tracks whether an entry's effect is currently present in the world.
//
// Lifecycle: Unapplied -> RolledBack -> Restored -> RolledBack -> ...
type RollbackState int

const (
	StateUnapplied RollbackState = iota
	StateRolledBack
	StateRestored
)

func (s RollbackState) String() string {
	switch s {
	case StateUnapplied:
		return "unapplied"
	case StateRolledBack:
		return "rolled_back"
	case StateRestored:
		return "restored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Valid reports whether s is a known state.
func (s RollbackState) Valid() bool {
	return s >= StateUnapplied && s <= StateRestored
}

// Eligible reports whether an entry in state s is changed by a run in direction d.
func (s RollbackState) Eligible(d Direction) bool {
	_, err := s.Next(d)
	return err == nil
}

// Next returns the state an entry moves to when a run in direction d applies it.
func (s RollbackState) Next(d Direction) (RollbackState, error) {
	switch d {
	case DirectionRollback:
		if s == StateUnapplied || s == StateRestored {
			return StateRolledBack, nil
		}
	case DirectionRestore:
		if s == StateRolledBack {
			return StateRestored, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s entry", ErrIllegalTransition, d, s)
}
