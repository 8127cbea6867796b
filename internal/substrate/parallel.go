package substrate

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Parallel runs fn for every index in [0, n) concurrently and waits for all
// of them. Recoverable per-item failures must be recorded by fn itself and
// swallowed; a returned error is reserved for internal faults and cancels the
// remaining items.
func Parallel(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return fn(ctx, i)
		})
	}
	return g.Wait()
}
