// Package actors maps the causes of logged actions to stable ids and back to
// display names. Players are identified by their UUID; natural causes get
// synthetic ids derived from their cause name.
package actors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Natural causes. Each has a fixed synthetic id.
const (
	Fire        = "#fire"
	Water       = "#water"
	Lava        = "#lava"
	Decay       = "#decay"
	Explosion   = "#explosion"
	Environment = "#environment"
)

// namespace seeds the name-based UUIDs of environment actors.
var namespace = uuid.MustParse("6f1d2c9a-5b0e-4c61-9a53-2f8e7d4b1c30")

var environmentNames = map[string]string{}

func init() {
	for _, cause := range []string{Fire, Water, Lava, Decay, Explosion, Environment} {
		environmentNames[EnvironmentID(cause)] = cause
	}
}

// ErrInvalidActor is returned for ids that are neither a player UUID nor a
// known environment id.
var ErrInvalidActor = errors.New("invalid actor id")

// EnvironmentID returns the stable id of a natural cause. Unknown causes are
// accepted so hosts can add their own.
func EnvironmentID(cause string) string {
	if !strings.HasPrefix(cause, "#") {
		cause = "#" + cause
	}
	return uuid.NewSHA1(namespace, []byte(cause)).String()
}

// IsEnvironment reports whether id belongs to a built-in natural cause.
func IsEnvironment(id string) bool {
	_, ok := environmentNames[id]
	return ok
}

// ValidatePlayerID checks that id is a canonical player UUID.
func ValidatePlayerID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidActor, id, err)
	}
	if u.String() != strings.ToLower(id) {
		return fmt.Errorf("%w: %q is not in canonical form", ErrInvalidActor, id)
	}
	return nil
}

// NameStore persists display names.
type NameStore interface {
	SaveActor(ctx context.Context, id, name string) error
	ActorName(ctx context.Context, id string) (string, error)
}

// Cache is an optional fast path in front of the NameStore.
type Cache interface {
	Get(ctx context.Context, id string) (string, bool, error)
	Set(ctx context.Context, id, name string) error
}

// Resolver resolves actor ids to display names.
type Resolver struct {
	store  NameStore
	cache  Cache
	logger *slog.Logger
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(st NameStore, cache Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: st, cache: cache, logger: logger}
}

// Remember records the current display name of a player.
func (r *Resolver) Remember(ctx context.Context, id, name string) error {
	if err := ValidatePlayerID(id); err != nil {
		return err
	}
	if err := r.store.SaveActor(ctx, id, name); err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, id, name); err != nil {
			r.logger.Warn("actor cache write failed", "id", id, "error", err)
		}
	}
	return nil
}

// DisplayName returns the best name known for id. Environment ids map to
// their cause and unknown ids are returned unchanged.
func (r *Resolver) DisplayName(ctx context.Context, id string) string {
	if cause, ok := environmentNames[id]; ok {
		return cause
	}
	if strings.HasPrefix(id, "#") {
		return id
	}

	if r.cache != nil {
		name, ok, err := r.cache.Get(ctx, id)
		if err != nil {
			r.logger.Warn("actor cache read failed", "id", id, "error", err)
		} else if ok {
			return name
		}
	}

	name, err := r.store.ActorName(ctx, id)
	if err != nil {
		return id
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, id, name); err != nil {
			r.logger.Warn("actor cache write failed", "id", id, "error", err)
		}
	}
	return name
}

// FilterID converts a user supplied actor to the id stored in the log. Causes
// written as "#fire" map to their environment id; anything else is an id already.
func FilterID(s string) string {
	if strings.HasPrefix(s, "#") {
		return EnvironmentID(s)
	}
	return strings.ToLower(s)
}
