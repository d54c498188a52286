package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBatchOpen is returned by Begin when a batch transaction is already open.
var ErrBatchOpen = errors.New("batch transaction already open")

// Begin opens the batch transaction. Until End, every statement runs inside it.
func (s *Store) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return ErrBatchOpen
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	s.tx = tx
	s.pending = 0
	return nil
}

// End commits the batch transaction, if one is open. On failure the writes
// made since Begin are lost and the returned error says how many.
func (s *Store) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}
	tx, pending := s.tx, s.pending
	s.tx, s.pending = nil, 0

	if err := tx.Commit(); err != nil {
		// SQLite keeps the transaction open when COMMIT fails on a constraint.
		_, _ = s.db.Exec("ROLLBACK")
		return &CommitError{Lost: pending, Err: err}
	}
	return nil
}

// Pending returns the number of writes waiting in the open batch.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// InBatch reports whether a batch transaction is open.
func (s *Store) InBatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// CommitError reports a failed batch commit.
type CommitError struct {
	Lost int
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit batch (%d writes lost): %v", e.Lost, e.Err)
}

func (e *CommitError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// Batcher keeps a batch transaction open on a Store and commits it on a fixed
// interval, so the crash-loss window is bounded by the interval without paying
// one disk sync per write.
type Batcher struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// flushMu keeps End/Begin pairs from interleaving.
	flushMu sync.Mutex
}

// NewBatcher creates a batcher for st. interval must be positive.
func NewBatcher(st *Store, interval time.Duration, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{store: st, interval: interval, logger: logger}
}

// Start opens the first transaction and schedules periodic commits until
// Stop is called or ctx is cancelled.
func (b *Batcher) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("batcher already running")
	}
	if b.interval <= 0 {
		return fmt.Errorf("batch interval must be positive, got %s", b.interval)
	}
	if err := b.store.Begin(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true

	go b.loop(ctx, b.done)

	b.logger.Info("batch commits scheduled", "interval", b.interval)
	return nil
}

func (b *Batcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

// Flush commits the open transaction and immediately opens the next one.
// A failed commit is logged and a new transaction is opened regardless, so
// writes keep being accepted.
func (b *Batcher) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if !running {
		return fmt.Errorf("batcher not running")
	}

	pending := b.store.Pending()
	commitErr := b.store.End()
	if commitErr != nil {
		b.logger.Error("batch commit failed, writes lost", "error", commitErr)
	} else if pending > 0 {
		b.logger.Debug("batch committed", "writes", pending)
	}

	if err := b.store.Begin(); err != nil {
		b.logger.Error("failed to reopen batch transaction", "error", err)
		return errors.Join(commitErr, err)
	}
	return commitErr
}

// Stop cancels the schedule and commits once without reopening.
func (b *Batcher) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	cancel()
	<-done

	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	if err := b.store.End(); err != nil {
		b.logger.Error("final batch commit failed", "error", err)
		return err
	}
	b.logger.Info("batch commits stopped")
	return nil
}
