package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/blocklog/internal/models"
)

// ErrEntryNotFound is returned when an entry id does not exist.
var ErrEntryNotFound = errors.New("log entry not found")

const entryColumns = `id, timestamp, world, x, y, z, actor, action, rollback_state,
	amount, target_name, old_payload, new_payload`

// Insert records a new entry and assigns its ID.
func (s *Store) Insert(ctx context.Context, e *models.LogEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	oldPayload, newPayload := models.EncodePayloads(e.Change)
	oldName, oldMeta, newName, newMeta := nameColumns(e.Change)
	amount, target := 0, ""
	switch c := e.Change.(type) {
	case *models.ItemTransfer:
		amount = c.Amount
	case *models.EntityKill:
		target = c.Target
	}

	return s.write(func(q queryer) error {
		res, err := q.ExecContext(ctx, `
			INSERT INTO log_entries
			(timestamp, world, x, y, z, actor, action, rollback_state,
			 old_name, old_meta, new_name, new_meta, amount, target_name, old_payload, new_payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Timestamp.Unix(), e.World, e.Pos.X, e.Pos.Y, e.Pos.Z, e.Actor, int(e.Action), int(e.State),
			oldName, oldMeta, newName, newMeta, amount, nullString(target), oldPayload, newPayload,
		)
		if err != nil {
			return fmt.Errorf("%w: insert log entry: %v", ErrUnavailable, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read inserted id: %w", err)
		}
		e.ID = id
		return nil
	})
}

// SetRollbackState updates the only mutable column of an entry.
func (s *Store) SetRollbackState(ctx context.Context, id int64, state models.RollbackState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid rollback state %d", int(state))
	}
	return s.write(func(q queryer) error {
		res, err := q.ExecContext(ctx, "UPDATE log_entries SET rollback_state = ? WHERE id = ?", int(state), id)
		if err != nil {
			return fmt.Errorf("%w: update rollback state: %v", ErrUnavailable, err)
		}
		n, err := res.RowsAffected()
		if err == nil && n == 0 {
			return fmt.Errorf("%w: %d", ErrEntryNotFound, id)
		}
		return nil
	})
}

// Get returns a single entry by id.
func (s *Store) Get(ctx context.Context, id int64) (*models.LogEntry, error) {
	var entry *models.LogEntry
	err := s.read(func(q queryer) error {
		rows, err := q.QueryContext(ctx, "SELECT "+entryColumns+" FROM log_entries WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("%w: query entry: %v", ErrUnavailable, err)
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: %d", ErrEntryNotFound, id)
		}
		entry, err = scanEntry(rows)
		return err
	})
	return entry, err
}

// Query returns the entries matching q in the requested order. Rows whose
// payload cannot be decoded are returned with DecodeErr set.
func (s *Store) Query(ctx context.Context, q Query) ([]*models.LogEntry, error) {
	where, args := q.where()
	stmt := "SELECT " + entryColumns + " FROM log_entries" + where
	if q.Order == OrderDescending {
		stmt += " ORDER BY id DESC"
	} else {
		stmt += " ORDER BY id ASC"
	}
	if q.Limit > 0 {
		stmt += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	}

	var entries []*models.LogEntry
	err := s.read(func(db queryer) error {
		rows, err := db.QueryContext(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("%w: query log entries: %v", ErrUnavailable, err)
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

// Count returns the number of entries matching q, ignoring order and paging.
func (s *Store) Count(ctx context.Context, q Query) (int, error) {
	where, args := q.where()
	var n int
	err := s.read(func(db queryer) error {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_entries"+where, args...).Scan(&n); err != nil {
			return fmt.Errorf("%w: count log entries: %v", ErrUnavailable, err)
		}
		return nil
	})
	return n, err
}

// Purge deletes entries older than the cutoff and returns how many were removed.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.write(func(q queryer) error {
		res, err := q.ExecContext(ctx, "DELETE FROM log_entries WHERE timestamp < ?", before.Unix())
		if err != nil {
			return fmt.Errorf("%w: purge: %v", ErrUnavailable, err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func scanEntry(rows *sql.Rows) (*models.LogEntry, error) {
	var (
		e          models.LogEntry
		ts         int64
		action     int
		state      int
		amount     int
		target     sql.NullString
		oldPayload []byte
		newPayload []byte
	)
	err := rows.Scan(&e.ID, &ts, &e.World, &e.Pos.X, &e.Pos.Y, &e.Pos.Z, &e.Actor,
		&action, &state, &amount, &target, &oldPayload, &newPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to scan log entry: %w", err)
	}

	e.Timestamp = time.Unix(ts, 0)
	e.Action = models.Action(action)
	e.State = models.RollbackState(state)

	switch {
	case !e.Action.Valid():
		e.DecodeErr = fmt.Errorf("unknown action %d", action)
	case !e.State.Valid():
		e.DecodeErr = fmt.Errorf("unknown rollback state %d", state)
	default:
		e.Change, e.DecodeErr = models.DecodeChange(e.Action, oldPayload, newPayload, target.String, amount)
	}
	return &e, nil
}

func nameColumns(c models.Change) (oldName sql.NullString, oldMeta sql.NullInt64, newName sql.NullString, newMeta sql.NullInt64) {
	switch v := c.(type) {
	case *models.BlockChange:
		if v.Old != nil {
			oldName, oldMeta = nullString(v.Old.Name), sql.NullInt64{Int64: int64(v.Old.Meta), Valid: true}
		}
		if v.New != nil {
			newName, newMeta = nullString(v.New.Name), sql.NullInt64{Int64: int64(v.New.Meta), Valid: true}
		}
	case *models.ItemTransfer:
		if v.Old != nil {
			oldName, oldMeta = nullString(v.Old.Name), sql.NullInt64{Int64: int64(v.Old.Meta), Valid: true}
		}
		if v.New != nil {
			newName, newMeta = nullString(v.New.Name), sql.NullInt64{Int64: int64(v.New.Meta), Valid: true}
		}
	case *models.EntityKill:
		oldName = nullString(v.Target)
	}
	return
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
