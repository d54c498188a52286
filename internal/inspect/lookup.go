package inspect

import (
	"context"
	"fmt"
	"time"

	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/kilupskalvis/blocklog/internal/store"
)

// Source is the read side of the log store.
type Source interface {
	Count(ctx context.Context, q store.Query) (int, error)
	Query(ctx context.Context, q store.Query) ([]*models.LogEntry, error)
}

// Lookup runs q against src, newest first, and builds the requested page.
func Lookup(ctx context.Context, src Source, q store.Query, page Page, now time.Time, names ActorNames) (*Report, error) {
	if page.Limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, page.Limit)
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	total, err := src.Count(ctx, q)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, ErrNoData
	}

	q.Order = store.OrderDescending
	q.Limit = page.Limit
	q.Offset = page.Offset
	rows, err := src.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return Build(ctx, rows, total, page, now, names)
}
