// Package models defines the log entry model shared by the store, the
// rollback engine and the inspector.
package models

import (
	"fmt"
	"strings"
)

// Action is the kind of world change a log entry records. Values are persisted
// as small integers; never renumber.
type Action int

const (
	ActionPlace Action = iota + 1
	ActionBreak
	ActionNaturalBreak
	ActionBurn
	ActionFlow
	ActionLeavesDecay
	ActionExplosion
	ActionKill
	ActionItemAdd
	ActionItemRemove
	ActionContainerClick
	ActionWorldEdit
)

// Category groups actions by the shape of their payload.
type Category int

const (
	CategoryPlacement Category = iota
	CategoryRemoval
	CategoryKill
	CategoryItem
)

var actionNames = map[Action]string{
	ActionPlace:          "place",
	ActionBreak:          "break",
	ActionNaturalBreak:   "natural_break",
	ActionBurn:           "burn",
	ActionFlow:           "flow",
	ActionLeavesDecay:    "leaves_decay",
	ActionExplosion:      "explosion",
	ActionKill:           "kill",
	ActionItemAdd:        "item_add",
	ActionItemRemove:     "item_remove",
	ActionContainerClick: "container_click",
	ActionWorldEdit:      "world_edit",
}

// AllActions returns every known action in persisted order.
func AllActions() []Action {
	out := make([]Action, 0, len(actionNames))
	for a := ActionPlace; a <= ActionWorldEdit; a++ {
		out = append(out, a)
	}
	return out
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction resolves an action by name, case-insensitively.
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, name := range actionNames {
		if name == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Category returns the payload shape the action carries.
func (a Action) Category() Category {
	switch a {
	case ActionBreak, ActionNaturalBreak, ActionBurn, ActionLeavesDecay, ActionExplosion:
		return CategoryRemoval
	case ActionKill:
		return CategoryKill
	case ActionItemAdd, ActionItemRemove, ActionContainerClick:
		return CategoryItem
	default:
		return CategoryPlacement
	}
}

// ShowsOld reports whether reports describe this action by the state it
// replaced rather than the state it produced.
func (a Action) ShowsOld() bool {
	return a.Category() == CategoryRemoval || a == ActionItemRemove
}
