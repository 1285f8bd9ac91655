// Package fanout runs a slice of independent operations concurrently and
// collects their results in input order, tolerating individual failures
// instead of aborting the whole batch.
package fanout

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Result pairs one operation's outcome with its position in the input.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Run calls fn once per i in [0,n), concurrently, and returns their results
// ordered by i rather than completion order. fn errors are collected, not
// propagated — Run always runs every i to completion (or to ctx
// cancellation, which each fn must honor itself).
func Run[T any](ctx context.Context, n int, fn func(ctx context.Context, i int) (T, error)) []Result[T] {
	results := make([]Result[T], n)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			val, err := fn(gctx, i)
			mu.Lock()
			results[i] = Result[T]{Index: i, Value: val, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
