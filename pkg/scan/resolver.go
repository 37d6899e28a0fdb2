package scan

import (
	"context"
	"time"

	"github.com/eunmann/sharkspotter/internal/logctx"
	"github.com/eunmann/sharkspotter/pkg/logging"
	"github.com/eunmann/sharkspotter/pkg/record"
)

// Query selects the objects whose id column lies in [Begin, End].
type Query struct {
	Column string
	Begin  int64
	End    int64
	Limit  int64
}

// Querier is the query service a scan reads from.
type Querier interface {
	// MaxID returns max(column). ok is false when the column holds no
	// values. A column that does not exist is an error.
	MaxID(ctx context.Context, column string) (maxID int64, ok bool, err error)
	// FindObjects streams the rows matching q to fn in id order. An error
	// from fn stops the stream and is returned. Transient overload is
	// reported by wrapping ErrOverloaded.
	FindObjects(ctx context.Context, q Query, fn func(record.Row) error) error
}

// Resolver looks up the upper bound of an id column.
type Resolver struct {
	q Querier
}

// NewResolver returns a Resolver backed by q.
func NewResolver(q Querier) *Resolver {
	return &Resolver{q: q}
}

// ResolveMax returns max(column). A failed query or an empty column is
// reported as a *BoundaryError; whether that is fatal is up to the caller.
func (r *Resolver) ResolveMax(ctx context.Context, column string) (int64, error) {
	start := time.Now()
	maxID, ok, err := r.q.MaxID(ctx, column)
	if err != nil {
		return 0, &BoundaryError{Column: column, Err: err}
	}
	if !ok {
		return 0, &BoundaryError{Column: column, Err: ErrNoBoundary}
	}

	logging.PhaseComplete(logctx.FromContext(ctx), "resolve_"+column, time.Since(start)).
		Str("id_column", column).
		Int64("max", maxID).
		LogDebug("resolved column max")
	return maxID, nil
}
