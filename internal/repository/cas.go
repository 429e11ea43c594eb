package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// Versioned is implemented by aggregates carrying an optimistic-concurrency token.
type Versioned interface {
	GetVersion() int64
}

// CASOp describes one read-modify-write cycle.
type CASOp[T Versioned] struct {
	// Load reads the current value.
	Load func(ctx context.Context) (T, error)
	// Mutate derives the next value from current. An error aborts without retrying.
	Mutate func(current T) (T, error)
	// Store writes next only if the persisted version still equals expected and returns
	// a CONFLICT error otherwise.
	Store func(ctx context.Context, next T, expected int64) error
}

// CompareAndSwap runs op until Store succeeds, Mutate fails or attempts are exhausted.
// attempts <= 0 retries until ctx is done. The last conflict is returned on exhaustion.
func CompareAndSwap[T Versioned](ctx context.Context, op CASOp[T], attempts int) (T, error) {
	var zero T
	var lastErr error
	for i := 0; attempts <= 0 || i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, goerr.Wrap(err, "compare and swap cancelled")
		}

		current, err := op.Load(ctx)
		if err != nil {
			return zero, err
		}
		next, err := op.Mutate(current)
		if err != nil {
			return zero, err
		}
		err = op.Store(ctx, next, current.GetVersion())
		if err == nil {
			return next, nil
		}
		if !apperrors.IsConflict(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}
