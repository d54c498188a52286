package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/kilupskalvis/blocklog/internal/store"
	"github.com/kilupskalvis/blocklog/internal/world"
)

// ErrChunkLoad is returned when a chunk needed by a run cannot be loaded.
// Nothing has been mutated when it is returned.
var ErrChunkLoad = errors.New("failed to load chunk")

// DefaultLoadConcurrency bounds parallel chunk loads when Options leaves it unset.
const DefaultLoadConcurrency = 4

// Phase is the state of one engine run.
type Phase int

const (
	PhaseFiltering Phase = iota
	PhaseLoading
	PhaseApplying
	PhaseCompleted
	PhaseCompletedWithErrors
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseFiltering:
		return "filtering"
	case PhaseLoading:
		return "loading"
	case PhaseApplying:
		return "applying"
	case PhaseCompleted:
		return "completed"
	case PhaseCompletedWithErrors:
		return "completed_with_errors"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LogStore is the part of the store the engine reads and updates.
type LogStore interface {
	Query(ctx context.Context, q store.Query) ([]*models.LogEntry, error)
	SetRollbackState(ctx context.Context, id int64, state models.RollbackState) error
}

// Request is one rollback or restore invocation.
type Request struct {
	Filter    Filter
	Direction models.Direction
}

// RowError records why a row could not be applied.
type RowError struct {
	ID  int64
	Pos area.Pos
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("entry %d at %s: %v", e.ID, e.Pos, e.Err)
}

// Result summarizes a run. Matched = Applied + Skipped + Failed once the run
// reaches a completed phase.
type Result struct {
	Direction models.Direction `json:"direction"`
	Phase     Phase            `json:"-"`
	Matched   int              `json:"matched"`
	Applied   int              `json:"applied"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Chunks    int              `json:"chunks"`
	Errors    []RowError       `json:"-"`
	Duration  time.Duration    `json:"duration"`
}

// NoData reports whether the filter matched nothing.
func (r *Result) NoData() bool {
	return r.Matched == 0 && r.Phase == PhaseCompleted
}

// Options configures an Engine.
type Options struct {
	Executor        world.Executor
	Logger          *slog.Logger
	Clock           func() time.Time
	LoadConcurrency int
	// Progress, if set, is called on the world thread after each row.
	Progress func(done, total int)
}

// Engine replays log entries against a world.
type Engine struct {
	store    LogStore
	world    world.Provider
	exec     world.Executor
	logger   *slog.Logger
	clock    func() time.Time
	loadConc int
	progress func(done, total int)
	locks    *regionLocks
}

// NewEngine creates an engine over st and w.
func NewEngine(st LogStore, w world.Provider, opts Options) *Engine {
	e := &Engine{
		store:    st,
		world:    w,
		exec:     opts.Executor,
		logger:   opts.Logger,
		clock:    opts.Clock,
		loadConc: opts.LoadConcurrency,
		progress: opts.Progress,
		locks:    newRegionLocks(),
	}
	if e.exec == nil {
		e.exec = world.Inline{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.loadConc <= 0 {
		e.loadConc = DefaultLoadConcurrency
	}
	return e
}

// Rollback undoes the entries matched by f, newest first.
func (e *Engine) Rollback(ctx context.Context, f Filter) (*Result, error) {
	return e.Run(ctx, Request{Filter: f, Direction: models.DirectionRollback})
}

// Restore re-applies rolled back entries matched by f, oldest first.
func (e *Engine) Restore(ctx context.Context, f Filter) (*Result, error) {
	return e.Run(ctx, Request{Filter: f, Direction: models.DirectionRestore})
}

// Run executes one invocation. The returned Result is never nil; on error its
// Phase is PhaseFailed and its counts reflect the work done before failing.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{Direction: req.Direction, Phase: PhaseFiltering}
	defer func() { res.Duration = time.Since(start) }()

	fail := func(err error) (*Result, error) {
		res.Phase = PhaseFailed
		e.logger.Error(req.Direction.String()+" failed", "world", req.Filter.World, "error", err)
		return res, err
	}

	// Filtering
	q, err := req.Filter.Query(e.clock(), orderFor(req.Direction))
	if err != nil {
		return fail(err)
	}
	release, err := e.locks.acquire(lockRegion(&req.Filter))
	if err != nil {
		return fail(err)
	}
	defer release()

	rows, err := e.store.Query(ctx, q)
	if err != nil {
		return fail(err)
	}
	res.Matched = len(rows)
	if len(rows) == 0 {
		res.Phase = PhaseCompleted
		return res, nil
	}

	// Loading
	res.Phase = PhaseLoading
	chunks := chunksFor(&req.Filter, rows)
	res.Chunks = len(chunks)
	if err := e.loadChunks(ctx, req.Filter.World, chunks); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// Applying runs to completion once queued, whatever happens to ctx.
	res.Phase = PhaseApplying
	applyCtx := context.WithoutCancel(ctx)
	var flips []stateFlip
	err = e.exec.Do(applyCtx, func() error {
		flips = e.apply(applyCtx, req.Direction, rows, res)
		return nil
	})
	if err != nil {
		return fail(err)
	}

	for _, f := range flips {
		if err := e.store.SetRollbackState(applyCtx, f.id, f.state); err != nil {
			return fail(fmt.Errorf("record rollback state for entry %d: %w", f.id, err))
		}
	}

	res.Phase = PhaseCompleted
	if res.Failed > 0 {
		res.Phase = PhaseCompletedWithErrors
	}
	e.logger.Info(req.Direction.String()+" finished",
		"world", req.Filter.World,
		"phase", res.Phase.String(),
		"matched", res.Matched,
		"applied", res.Applied,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

// lockRegion is the area a run holds while it queries and applies. An
// unbounded filter locks the whole world.
func lockRegion(f *Filter) area.Area {
	if box, ok, _ := f.Area(); ok {
		return box
	}
	return area.Whole(f.World)
}

// chunksFor returns the chunks a run needs resident. Without an explicit
// bound they come from the rows' positions.
func chunksFor(f *Filter, rows []*models.LogEntry) []area.ChunkCoord {
	if box, ok, _ := f.Area(); ok {
		return area.AllChunks(box).Sorted()
	}
	positions := make([]area.Pos, len(rows))
	for i, r := range rows {
		positions[i] = r.Pos
	}
	return area.TouchedChunks(positions).Sorted()
}

// loadChunks loads every chunk not yet resident. Any failure fails the whole set.
func (e *Engine) loadChunks(ctx context.Context, worldName string, chunks []area.ChunkCoord) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.loadConc)

	for _, c := range chunks {
		if e.world.IsChunkLoaded(worldName, c) {
			continue
		}
		g.Go(func() error {
			if err := e.world.LoadChunk(gctx, worldName, c); err != nil {
				return fmt.Errorf("%w %s in %s: %v", ErrChunkLoad, c, worldName, err)
			}
			return nil
		})
	}
	return g.Wait()
}

type stateFlip struct {
	id    int64
	state models.RollbackState
}

// apply replays rows in order on the world thread and returns the state
// changes to persist.
func (e *Engine) apply(ctx context.Context, dir models.Direction, rows []*models.LogEntry, res *Result) []stateFlip {
	flips := make([]stateFlip, 0, len(rows))
	fail := func(row *models.LogEntry, err error) {
		res.Failed++
		res.Errors = append(res.Errors, RowError{ID: row.ID, Pos: row.Pos, Err: err})
		e.logger.Warn("entry not applied", "id", row.ID, "pos", row.Pos.String(), "error", err)
	}

	for i, row := range rows {
		switch {
		case row.Corrupted():
			err := row.DecodeErr
			if err == nil {
				err = errors.New("entry has no state to apply")
			}
			fail(row, err)
		case !row.State.Eligible(dir):
			res.Skipped++
		default:
			next, err := row.State.Next(dir)
			if err != nil {
				fail(row, err)
				break
			}
			if err := e.applyRow(ctx, dir, row); err != nil {
				fail(row, err)
				break
			}
			res.Applied++
			row.State = next
			flips = append(flips, stateFlip{id: row.ID, state: next})
		}
		if e.progress != nil {
			e.progress(i+1, len(rows))
		}
	}
	return flips
}

// applyRow writes one entry's effect. Rollback puts back the old side, restore
// puts back the new side.
func (e *Engine) applyRow(ctx context.Context, dir models.Direction, row *models.LogEntry) error {
	rollback := dir == models.DirectionRollback

	switch c := row.Change.(type) {
	case *models.BlockChange:
		target := c.New
		if rollback {
			target = c.Old
		}
		return e.world.SetBlock(ctx, row.World, row.Pos, target)

	case *models.ItemTransfer:
		take, give := c.Old, c.New
		if rollback {
			take, give = c.New, c.Old
		}
		if take != nil {
			if err := e.world.RemoveItem(ctx, row.World, row.Pos, stackOf(take, c.Amount)); err != nil {
				return err
			}
		}
		if give != nil {
			if err := e.world.AddItem(ctx, row.World, row.Pos, stackOf(give, c.Amount)); err != nil {
				if take == nil {
					return err
				}
				// put back what was taken so a retry starts from the same contents
				if undoErr := e.world.AddItem(ctx, row.World, row.Pos, stackOf(take, c.Amount)); undoErr != nil {
					return errors.Join(err, fmt.Errorf("undo item removal: %w", undoErr))
				}
				return err
			}
		}
		return nil

	case *models.EntityKill:
		if rollback {
			return e.world.SpawnEntity(ctx, row.World, row.Pos, c.Target, c.Snapshot)
		}
		return e.world.DespawnEntity(ctx, row.World, row.Pos, c.Target)

	default:
		return fmt.Errorf("unsupported change %T", row.Change)
	}
}

func stackOf(s *models.ItemStack, amount int) models.ItemStack {
	out := *s
	if out.Count == 0 {
		out.Count = amount
	}
	return out
}

// Outcome is delivered by Submit when a run finishes.
type Outcome struct {
	Result *Result
	Err    error
}

// Submit runs req on its own goroutine so the caller's thread is never
// blocked by storage. The channel receives exactly one Outcome.
func (e *Engine) Submit(ctx context.Context, req Request) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		res, err := e.Run(ctx, req)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}
