package store

import (
	"strings"
	"time"

	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/models"
)

// Order selects the id ordering of query results.
type Order int

const (
	// OrderAscending returns oldest entries first.
	OrderAscending Order = iota
	// OrderDescending returns newest entries first.
	OrderDescending
)

// Query selects log entries. Zero-valued fields do not constrain the result.
type Query struct {
	World         string
	Since         time.Time
	Box           *area.Area
	Actors        []string
	Actions       []models.Action
	IncludeBlocks []string
	ExcludeBlocks []string
	Order         Order
	Limit         int
	Offset        int
}

// where builds the WHERE clause and its arguments.
func (q *Query) where() (string, []any) {
	var (
		conds []string
		args  []any
	)

	if q.World != "" {
		conds = append(conds, "world = ?")
		args = append(args, q.World)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, q.Since.Unix())
	}
	if q.Box != nil {
		conds = append(conds, "x BETWEEN ? AND ?", "y BETWEEN ? AND ?", "z BETWEEN ? AND ?")
		args = append(args,
			q.Box.Min.X, q.Box.Max.X,
			q.Box.Min.Y, q.Box.Max.Y,
			q.Box.Min.Z, q.Box.Max.Z,
		)
	}
	if len(q.Actors) > 0 {
		conds = append(conds, "actor IN ("+placeholders(len(q.Actors))+")")
		for _, a := range q.Actors {
			args = append(args, a)
		}
	}
	if len(q.Actions) > 0 {
		conds = append(conds, "action IN ("+placeholders(len(q.Actions))+")")
		for _, a := range q.Actions {
			args = append(args, int(a))
		}
	}
	if len(q.IncludeBlocks) > 0 {
		ph := placeholders(len(q.IncludeBlocks))
		conds = append(conds, "(old_name IN ("+ph+") OR new_name IN ("+ph+"))")
		args = appendStrings(args, q.IncludeBlocks)
		args = appendStrings(args, q.IncludeBlocks)
	}
	if len(q.ExcludeBlocks) > 0 {
		ph := placeholders(len(q.ExcludeBlocks))
		conds = append(conds, "NOT (COALESCE(old_name, '') IN ("+ph+") OR COALESCE(new_name, '') IN ("+ph+"))")
		args = appendStrings(args, q.ExcludeBlocks)
		args = appendStrings(args, q.ExcludeBlocks)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func appendStrings(args []any, values []string) []any {
	for _, v := range values {
		args = append(args, v)
	}
	return args
}
