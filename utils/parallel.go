package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/multierr"
)

// ParallelFactor is the default limit on concurrently running functions in RunBounded.
var ParallelFactor = runtime.GOMAXPROCS(0)

// SimpleFunc is one unit of work for RunBounded.
type SimpleFunc func(ctx context.Context) error

// RunBounded runs every function, at most limit at a time (ParallelFactor when limit <= 0), and
// returns the combination of their errors. A failing function does not cancel the others. A panic
// is turned into an error.
func RunBounded(ctx context.Context, limit int, fs []SimpleFunc) error {
	if limit <= 0 {
		limit = ParallelFactor
	}
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var combined error
	storeError := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		combined = multierr.Append(combined, err)
	}

	for _, f := range fs {
		if ctx.Err() != nil {
			wg.Wait()
			return multierr.Append(combined, ctx.Err())
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return multierr.Append(combined, ctx.Err())
		}
		wg.Add(1)
		go func(f SimpleFunc) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					storeError(fmt.Errorf("got panic running something in parallel: %v", thePanic))
				}
				<-sem
				wg.Done()
			}()
			if err := f(ctx); err != nil {
				storeError(err)
			}
		}(f)
	}
	wg.Wait()
	return combined
}
