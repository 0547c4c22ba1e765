// Package fanout runs independent per-key tasks across a bounded worker pool
// and collects their results as they complete.
//
// One abstraction covers both pipeline stages: the I/O-bound filter stage
// (one goroutine per key, pool size defaulting to the task count) and the
// heavier reduction stage (keys chunked into a fixed number of partitions,
// each processed sequentially by one worker). Callers must combine results
// with a commutative, associative operation; completion order is not
// deterministic.
package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Options tunes a single Run call.
type Options struct {
	// Workers bounds concurrent tasks. 0 means one worker per task.
	Workers int

	// Timeout is the per-task deadline. 0 means the parent context alone
	// bounds each task. A stalled remote read therefore cannot block pool
	// shutdown when either is set.
	Timeout time.Duration
}

// Result is the outcome of one task, indexed by its key.
type Result[T any] struct {
	Key   string
	Value T
	Err   error
}

// Run executes fn once per key with bounded parallelism and returns all
// results in completion order. A single task's failure is captured in its
// Result and does not terminate sibling tasks. If the parent context is
// cancelled, tasks not yet started fail fast with the context error.
func Run[T any](ctx context.Context, keys []string, opts Options, fn func(ctx context.Context, key string) (T, error)) []Result[T] {
	if len(keys) == 0 {
		return nil
	}

	workers := opts.Workers
	if workers <= 0 || workers > len(keys) {
		workers = len(keys)
	}

	sem := make(chan struct{}, workers)
	results := make(chan Result[T], len(keys))

	for _, key := range keys {
		go func(key string) {
			sem <- struct{}{}        // Acquire semaphore
			defer func() { <-sem }() // Release semaphore

			results <- runOne(ctx, key, opts.Timeout, fn)
		}(key)
	}

	collected := make([]Result[T], 0, len(keys))
	for range keys {
		res := <-results
		if res.Err != nil {
			log.Debug().Str("key", res.Key).Err(res.Err).Msg("task failed")
		}
		collected = append(collected, res)
	}
	return collected
}

// runOne isolates a single task: panics never escape here and the per-task
// deadline is applied around the callback only.
func runOne[T any](ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context, key string) (T, error)) (res Result[T]) {
	res.Key = key
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res.Value, res.Err = fn(ctx, key)
	return res
}

// RunPartitioned chunks keys into at most partitions contiguous groups and
// processes each group sequentially on its own worker. Used when per-key work
// is CPU-heavy enough that an unbounded pool would thrash. Results carry the
// same per-key isolation guarantees as Run, and their combined value is
// independent of how the keys were partitioned.
func RunPartitioned[T any](ctx context.Context, keys []string, partitions int, timeout time.Duration, fn func(ctx context.Context, key string) (T, error)) []Result[T] {
	if len(keys) == 0 {
		return nil
	}
	if partitions <= 0 {
		partitions = 1
	}

	groups := Partition(keys, partitions)
	results := make(chan []Result[T], len(groups))

	for _, group := range groups {
		go func(group []string) {
			part := make([]Result[T], 0, len(group))
			for _, key := range group {
				part = append(part, runOne(ctx, key, timeout, fn))
			}
			results <- part
		}(group)
	}

	collected := make([]Result[T], 0, len(keys))
	for range groups {
		collected = append(collected, <-results...)
	}
	return collected
}

// Partition splits keys into at most n contiguous groups of near-equal size.
// Every key lands in exactly one group and no group is empty.
func Partition(keys []string, n int) [][]string {
	if len(keys) == 0 {
		return nil
	}
	if n <= 0 || n > len(keys) {
		n = len(keys)
	}

	groups := make([][]string, 0, n)
	size := len(keys) / n
	rem := len(keys) % n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		groups = append(groups, keys[start:end])
		start = end
	}
	return groups
}
