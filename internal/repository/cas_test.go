package repository_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/spec-kit/case-engine/internal/repository"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

type counter struct {
	value   int
	version int64
}

func (c counter) GetVersion() int64 { return c.version }

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()

	t.Run("retries on conflict until the write lands", func(t *testing.T) {
		stored := counter{value: 1, version: 1}
		conflicts := 2
		op := repository.CASOp[counter]{
			Load: func(context.Context) (counter, error) { return stored, nil },
			Mutate: func(c counter) (counter, error) {
				c.value++
				return c, nil
			},
			Store: func(_ context.Context, next counter, expected int64) error {
				if conflicts > 0 {
					conflicts--
					return apperrors.NewConflict("stale", nil)
				}
				gt.Value(t, expected).Equal(stored.version)
				next.version = expected + 1
				stored = next
				return nil
			},
		}
		out, err := repository.CompareAndSwap(ctx, op, 5)
		gt.NoError(t, err).Required()
		gt.Value(t, out.value).Equal(2)
		gt.Value(t, stored.version).Equal(int64(2))
	})

	t.Run("returns the conflict when attempts run out", func(t *testing.T) {
		calls := 0
		op := repository.CASOp[counter]{
			Load:   func(context.Context) (counter, error) { return counter{}, nil },
			Mutate: func(c counter) (counter, error) { return c, nil },
			Store: func(context.Context, counter, int64) error {
				calls++
				return apperrors.NewConflict("stale", nil)
			},
		}
		_, err := repository.CompareAndSwap(ctx, op, 3)
		gt.Bool(t, apperrors.IsConflict(err)).True()
		gt.Value(t, calls).Equal(3)
	})

	t.Run("mutate errors abort immediately", func(t *testing.T) {
		calls := 0
		op := repository.CASOp[counter]{
			Load: func(context.Context) (counter, error) { return counter{}, nil },
			Mutate: func(counter) (counter, error) {
				calls++
				return counter{}, apperrors.NewCapacityExceeded("full", nil)
			},
			Store: func(context.Context, counter, int64) error { return nil },
		}
		_, err := repository.CompareAndSwap(ctx, op, 0)
		gt.Bool(t, apperrors.IsCapacityExceeded(err)).True()
		gt.Value(t, calls).Equal(1)
	})

	t.Run("unbounded attempts stop when the context ends", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		op := repository.CASOp[counter]{
			Load:   func(context.Context) (counter, error) { return counter{}, nil },
			Mutate: func(c counter) (counter, error) { return c, nil },
			Store: func(context.Context, counter, int64) error {
				calls++
				if calls == 4 {
					cancel()
				}
				return apperrors.NewConflict("stale", nil)
			},
		}
		_, err := repository.CompareAndSwap(cctx, op, 0)
		gt.Bool(t, apperrors.IsConflict(err)).True()
		gt.Value(t, calls).Equal(4)
	})
}
