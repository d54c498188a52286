package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrActorNotFound is returned when no display name is stored for an actor.
var ErrActorNotFound = errors.New("actor not found")

// SaveActor stores or replaces the display name for an actor id.
func (s *Store) SaveActor(ctx context.Context, id, name string) error {
	if id == "" || name == "" {
		return fmt.Errorf("actor id and name are required")
	}
	return s.write(func(q queryer) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO actors (id, name) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name`, id, name)
		if err != nil {
			return fmt.Errorf("%w: save actor: %v", ErrUnavailable, err)
		}
		return nil
	})
}

// ActorName returns the display name stored for id.
func (s *Store) ActorName(ctx context.Context, id string) (string, error) {
	var name string
	err := s.read(func(q queryer) error {
		err := q.QueryRowContext(ctx, "SELECT name FROM actors WHERE id = ?", id).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrActorNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("%w: read actor: %v", ErrUnavailable, err)
		}
		return nil
	})
	return name, err
}
