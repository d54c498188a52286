package world

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrExecutorStopped is returned by Do once the tick loop has exited.
var ErrExecutorStopped = errors.New("world executor stopped")

// Executor runs world mutations on the thread that owns the world.
type Executor interface {
	// Do runs fn on the world thread and returns its error.
	Do(ctx context.Context, fn func() error) error
}

// Inline runs work on the calling goroutine. It suits worlds without a
// dedicated tick thread, such as BoltWorld driven from the CLI.
type Inline struct{}

// Do calls fn directly.
func (Inline) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

type task struct {
	fn   func() error
	done chan error
}

// TickLoop queues work and runs it at the start of each tick, the way a game
// server drains its scheduled tasks.
type TickLoop struct {
	interval time.Duration
	tasks    chan task
	stopped  chan struct{}
	logger   *slog.Logger
}

// NewTickLoop creates a loop ticking every interval. Run must be started for
// queued work to execute.
func NewTickLoop(interval time.Duration, logger *slog.Logger) *TickLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &TickLoop{
		interval: interval,
		tasks:    make(chan task, 64),
		stopped:  make(chan struct{}),
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled.
func (l *TickLoop) Run(ctx context.Context) error {
	defer close(l.stopped)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.drain(ErrExecutorStopped)
			return ctx.Err()
		case <-ticker.C:
			l.tick()
		}
	}
}

// tick runs the tasks queued before the tick started.
func (l *TickLoop) tick() {
	n := len(l.tasks)
	start := time.Now()
	for i := 0; i < n; i++ {
		t := <-l.tasks
		t.done <- t.fn()
	}
	if elapsed := time.Since(start); elapsed > l.interval {
		l.logger.Warn("tick overran", "tasks", n, "elapsed", elapsed, "interval", l.interval)
	}
}

func (l *TickLoop) drain(err error) {
	for {
		select {
		case t := <-l.tasks:
			t.done <- err
		default:
			return
		}
	}
}

// Do queues fn for the next tick and waits for it to finish. If ctx is
// cancelled after fn was queued, fn may still run.
func (l *TickLoop) Do(ctx context.Context, fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case l.tasks <- t:
	case <-l.stopped:
		return ErrExecutorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-l.stopped:
		// drain may have answered just before stopped closed
		select {
		case err := <-t.done:
			return err
		default:
			return ErrExecutorStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
