package fanout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func intKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = strconv.Itoa(i)
	}
	return keys
}

func TestRunCollectsAllResults(t *testing.T) {
	keys := intKeys(20)
	results := Run(context.Background(), keys, Options{Workers: 4},
		func(ctx context.Context, key string) (int, error) {
			n, _ := strconv.Atoi(key)
			return n * 2, nil
		})

	if len(results) != len(keys) {
		t.Fatalf("got %d results, want %d", len(results), len(keys))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("key %s: unexpected error %v", res.Key, res.Err)
		}
		n, _ := strconv.Atoi(res.Key)
		if res.Value != n*2 {
			t.Errorf("key %s: value = %d, want %d", res.Key, res.Value, n*2)
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	const workers = 3
	var active, peak atomic.Int64

	Run(context.Background(), intKeys(30), Options{Workers: workers},
		func(ctx context.Context, key string) (struct{}, error) {
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			return struct{}{}, nil
		})

	if peak.Load() > workers {
		t.Errorf("peak concurrency %d exceeded worker budget %d", peak.Load(), workers)
	}
}

func TestRunFailureIsolation(t *testing.T) {
	boom := errors.New("boom")
	results := Run(context.Background(), intKeys(10), Options{Workers: 2},
		func(ctx context.Context, key string) (int, error) {
			if key == "3" || key == "7" {
				return 0, boom
			}
			return 1, nil
		})

	var ok, failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			if !errors.Is(res.Err, boom) {
				t.Errorf("key %s: error = %v, want boom", res.Key, res.Err)
			}
		} else {
			ok++
		}
	}
	if failed != 2 || ok != 8 {
		t.Errorf("got %d failures and %d successes, want 2 and 8", failed, ok)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	results := Run(context.Background(), []string{"a", "b"}, Options{},
		func(ctx context.Context, key string) (int, error) {
			if key == "a" {
				panic("kaboom")
			}
			return 42, nil
		})

	for _, res := range results {
		switch res.Key {
		case "a":
			if res.Err == nil {
				t.Error("panicking task should surface an error")
			}
		case "b":
			if res.Err != nil || res.Value != 42 {
				t.Errorf("sibling of panicking task failed: %v", res.Err)
			}
		}
	}
}

func TestRunPerTaskTimeout(t *testing.T) {
	results := Run(context.Background(), []string{"slow", "fast"}, Options{Timeout: 20 * time.Millisecond},
		func(ctx context.Context, key string) (int, error) {
			if key == "slow" {
				select {
				case <-time.After(5 * time.Second):
					return 1, nil
				case <-ctx.Done():
					return 0, ctx.Err()
				}
			}
			return 1, nil
		})

	for _, res := range results {
		if res.Key == "slow" && !errors.Is(res.Err, context.DeadlineExceeded) {
			t.Errorf("slow task error = %v, want deadline exceeded", res.Err)
		}
		if res.Key == "fast" && res.Err != nil {
			t.Errorf("fast task error = %v, want nil", res.Err)
		}
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		results := Run(ctx, intKeys(50), Options{Workers: 2},
			func(ctx context.Context, key string) (int, error) {
				return 0, ctx.Err()
			})
		if len(results) != 50 {
			t.Errorf("got %d results, want 50", len(results))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not shut down after cancellation")
	}
}

// Sum aggregation must be order-independent: any worker count and any
// partitioning of the same key set combine to the same total.
func TestSumOrderIndependence(t *testing.T) {
	keys := intKeys(37)
	task := func(ctx context.Context, key string) (float64, error) {
		n, _ := strconv.Atoi(key)
		return float64(n) * 1.5, nil
	}

	var sequential float64
	for _, key := range keys {
		v, _ := task(context.Background(), key)
		sequential += v
	}

	for _, workers := range []int{1, 2, 5, 0} {
		results := Run(context.Background(), keys, Options{Workers: workers}, task)
		var total float64
		for _, res := range results {
			total += res.Value
		}
		if total != sequential {
			t.Errorf("workers=%d: total = %v, want %v", workers, total, sequential)
		}
	}

	for _, partitions := range []int{1, 3, 10, 37, 100} {
		results := RunPartitioned(context.Background(), keys, partitions, 0, task)
		var total float64
		for _, res := range results {
			total += res.Value
		}
		if total != sequential {
			t.Errorf("partitions=%d: total = %v, want %v", partitions, total, sequential)
		}
	}
}

func TestRunPartitionedSequentialWithinPartition(t *testing.T) {
	keys := intKeys(12)
	var mu sync.Mutex
	concurrent := make(map[int]int) // partition guess via concurrent count

	var active atomic.Int64
	results := RunPartitioned(context.Background(), keys, 3, 0,
		func(ctx context.Context, key string) (int, error) {
			cur := int(active.Add(1))
			mu.Lock()
			concurrent[cur]++
			mu.Unlock()
			time.Sleep(time.Millisecond)
			active.Add(-1)
			return 0, nil
		})

	if len(results) != len(keys) {
		t.Fatalf("got %d results, want %d", len(results), len(keys))
	}
	for level := range concurrent {
		if level > 3 {
			t.Errorf("observed %d concurrent tasks, partition budget is 3", level)
		}
	}
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name string
		keys int
		n    int
		want []int // group sizes
	}{
		{name: "even split", keys: 10, n: 2, want: []int{5, 5}},
		{name: "uneven split", keys: 10, n: 3, want: []int{4, 3, 3}},
		{name: "more partitions than keys", keys: 3, n: 10, want: []int{1, 1, 1}},
		{name: "single partition", keys: 5, n: 1, want: []int{5}},
		{name: "zero partitions behaves like per-key", keys: 2, n: 0, want: []int{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := Partition(intKeys(tt.keys), tt.n)
			if len(groups) != len(tt.want) {
				t.Fatalf("got %d groups, want %d", len(groups), len(tt.want))
			}

			var all []string
			for i, g := range groups {
				if len(g) != tt.want[i] {
					t.Errorf("group %d has %d keys, want %d", i, len(g), tt.want[i])
				}
				all = append(all, g...)
			}

			// Every key appears exactly once.
			sort.Strings(all)
			want := intKeys(tt.keys)
			sort.Strings(want)
			if fmt.Sprint(all) != fmt.Sprint(want) {
				t.Errorf("partition lost or duplicated keys: %v", all)
			}
		})
	}

	if got := Partition(nil, 3); got != nil {
		t.Errorf("Partition(nil) = %v, want nil", got)
	}
}
