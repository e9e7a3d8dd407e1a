// Package parallel splits index ranges across goroutines.
//
// Re-scoring a reference population iterates over row ranges; these helpers
// keep the chunking logic in one place.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// chunks returns [start, end) ranges covering items split across at most workers.
func chunks(items, workers int) [][2]int {
	if items <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}
	chunkSize := (items + workers - 1) / workers

	out := make([][2]int, 0, workers)
	for start := 0; start < items; start += chunkSize {
		end := start + chunkSize
		if end > items {
			end = items
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// Parallelize divides items according to the number of CPU cores and runs fn
// for each [start, end) range in its own goroutine.
func Parallelize(items int, fn func(start, end int)) {
	ranges := chunks(items, 0)
	var wg sync.WaitGroup
	for _, r := range ranges {
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(r[0], r[1])
	}
	wg.Wait()
}

// ParallelizeWithThreshold performs parallelization only when the number of items exceeds the threshold.
// Below the threshold fn runs once over the whole range on the calling goroutine.
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		if items > 0 {
			fn(0, items)
		}
		return
	}
	Parallelize(items, fn)
}

// ParallelizeErr is the fallible variant of Parallelize. The first error
// cancels ctx for the remaining ranges and is returned.
// workers <= 0 means runtime.NumCPU().
func ParallelizeErr(ctx context.Context, items, workers int, fn func(ctx context.Context, start, end int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range chunks(items, workers) {
		s, e := r[0], r[1]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, s, e)
		})
	}
	return g.Wait()
}
