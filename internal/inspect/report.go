// Package inspect builds paginated, human-readable views of log entries.
// It only reads; nothing here mutates the log or the world.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/models"
)

var (
	// ErrNoData means the query matched nothing. It is not a failure.
	ErrNoData = errors.New("no data found")
	// ErrInvalidPage is returned for a page size below one.
	ErrInvalidPage = errors.New("page size must be positive")
	// ErrCorruptedRow aborts a report when a row carries no usable state.
	ErrCorruptedRow = errors.New("corrupted log entry")
)

// Page selects a window of a result set.
type Page struct {
	Limit  int
	Offset int
}

// Number returns the 1-based page the offset falls on.
func (p Page) Number() int {
	return p.Offset/p.Limit + 1
}

// Count returns how many pages total rows span.
func (p Page) Count(total int) int {
	return (total + p.Limit - 1) / p.Limit
}

// ActorNames resolves stored actor ids to display names.
type ActorNames interface {
	DisplayName(ctx context.Context, id string) string
}

// Line is one formatted row.
type Line struct {
	ID         int64         `json:"id"`
	Time       time.Time     `json:"time"`
	Ago        string        `json:"ago"`
	Actor      string        `json:"actor"`
	Action     models.Action `json:"-"`
	ActionName string        `json:"action"`
	Subject    string        `json:"subject"`
	Amount     int           `json:"amount,omitempty"`
	World      string        `json:"world"`
	Pos        area.Pos      `json:"pos"`
	RolledBack bool          `json:"rolled_back"`
}

// Report is one page of formatted rows.
type Report struct {
	Page  int    `json:"page"`
	Pages int    `json:"pages"`
	Total int    `json:"total"`
	Lines []Line `json:"lines"`
}

// Build formats rows, which must already be the requested page of a result
// set with total rows. now anchors the relative times.
func Build(ctx context.Context, rows []*models.LogEntry, total int, page Page, now time.Time, names ActorNames) (*Report, error) {
	if page.Limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, page.Limit)
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	r := &Report{
		Page:  page.Number(),
		Pages: page.Count(total),
		Total: total,
		Lines: make([]Line, 0, len(rows)),
	}
	for _, row := range rows {
		subject, err := subjectOf(row)
		if err != nil {
			return nil, err
		}
		actor := row.Actor
		if names != nil {
			actor = names.DisplayName(ctx, row.Actor)
		}
		line := Line{
			ID:         row.ID,
			Time:       row.Timestamp,
			Ago:        relativeTime(row.Timestamp, now),
			Actor:      actor,
			Action:     row.Action,
			ActionName: row.Action.String(),
			Subject:    subject,
			World:      row.World,
			Pos:        row.Pos,
			RolledBack: row.State == models.StateRolledBack,
		}
		if it, ok := row.Change.(*models.ItemTransfer); ok {
			line.Amount = it.Amount
		}
		r.Lines = append(r.Lines, line)
	}
	return r, nil
}

// subjectOf picks the name a row is described by: the replaced state for
// removals, the produced state for placements, the victim for kills.
func subjectOf(row *models.LogEntry) (string, error) {
	if row.DecodeErr != nil {
		return "", fmt.Errorf("%w: entry %d: %v", ErrCorruptedRow, row.ID, row.DecodeErr)
	}
	if row.Change == nil || row.Change.Empty() {
		return "", fmt.Errorf("%w: entry %d has no state", ErrCorruptedRow, row.ID)
	}

	if kill, ok := row.Change.(*models.EntityKill); ok {
		return kill.Target, nil
	}
	oldName, newName := models.OldName(row.Change), models.NewName(row.Change)
	if row.Action.ShowsOld() {
		if oldName != "" {
			return oldName, nil
		}
		return newName, nil
	}
	if newName != "" {
		return newName, nil
	}
	return oldName, nil
}
