package benchmark

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/powerpool/pkg/scheduling/powerpool"
)

func newPool(b *testing.B, mutate func(*powerpool.Config)) *powerpool.Pool {
	b.Helper()
	cfg := powerpool.DefaultConfig()
	cfg.Name = b.Name()
	if mutate != nil {
		mutate(&cfg)
	}
	pool, err := powerpool.NewWithConfig(cfg)
	if err != nil {
		b.Fatalf("failed to create pool: %v", err)
	}
	b.Cleanup(func() { _ = pool.Dispose(context.Background()) })
	return pool
}

func waitAll(b *testing.B, pool *powerpool.Pool) {
	b.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := pool.WaitAll(ctx); err != nil {
		b.Fatalf("wait all: %v", err)
	}
}

func noop(context.Context) (any, error) { return nil, nil }

// BenchmarkPoolSubmit measures submission cost.
func BenchmarkPoolSubmit(b *testing.B) {
	for _, threads := range []int{2, 4, 8} {
		b.Run(fmt.Sprintf("%dthreads", threads), func(b *testing.B) {
			pool := newPool(b, func(c *powerpool.Config) { c.MaxThreads = threads })

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _ = pool.Submit(noop)
			}
			b.StopTimer()
			waitAll(b, pool)
		})
	}
}

// BenchmarkPoolThroughput measures end-to-end execution of empty works.
func BenchmarkPoolThroughput(b *testing.B) {
	pool := newPool(b, nil)

	var completed atomic.Int64
	work := func(context.Context) (any, error) {
		completed.Add(1)
		return nil, nil
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = pool.Submit(work)
	}
	waitAll(b, pool)
	if completed.Load() != int64(b.N) {
		b.Fatalf("completed %d of %d", completed.Load(), b.N)
	}
}

// BenchmarkPoolContention submits from many goroutines at once.
func BenchmarkPoolContention(b *testing.B) {
	pool := newPool(b, func(c *powerpool.Config) { c.MaxThreads = 8 })

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = pool.Submit(noop)
		}
	})
	b.StopTimer()
	waitAll(b, pool)
}

// BenchmarkPoolWithWork compares placement policies on works that take
// time, against an errgroup baseline.
func BenchmarkPoolWithWork(b *testing.B) {
	for _, d := range []time.Duration{time.Microsecond, 10 * time.Microsecond} {
		work := func(context.Context) (any, error) {
			time.Sleep(d)
			return nil, nil
		}

		for _, placement := range []powerpool.PlacementPolicy{
			powerpool.PreferIdleThenLeastLoaded,
			powerpool.PreferIdleThenLocal,
		} {
			b.Run(d.String()+"/"+placement.String(), func(b *testing.B) {
				pool := newPool(b, func(c *powerpool.Config) {
					c.MaxThreads = 4
					c.DefaultPlacement = placement
				})
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					_, _ = pool.Submit(work)
				}
				waitAll(b, pool)
			})
		}

		b.Run(d.String()+"/errgroup", func(b *testing.B) {
			var g errgroup.Group
			g.SetLimit(4)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				g.Go(func() error {
					_, err := work(context.Background())
					return err
				})
			}
			_ = g.Wait()
		})
	}
}

// BenchmarkPoolFanOut measures works that submit children to their own
// worker, leaving the rest of the pool to steal.
func BenchmarkPoolFanOut(b *testing.B) {
	const children = 16
	pool := newPool(b, func(c *powerpool.Config) { c.MaxThreads = 4 })

	parent := func(ctx context.Context) (any, error) {
		for i := 0; i < children; i++ {
			if _, err := pool.SubmitContext(ctx, noop, powerpool.WorkOption{Placement: powerpool.PreferLocalWorker}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = pool.Submit(parent)
	}
	waitAll(b, pool)
}

// BenchmarkPoolDependencyChain measures the cost of releasing dependents.
func BenchmarkPoolDependencyChain(b *testing.B) {
	pool := newPool(b, nil)

	b.ReportAllocs()
	b.ResetTimer()
	var prev powerpool.WorkID
	for i := 0; i < b.N; i++ {
		var opt powerpool.WorkOption
		if !prev.IsZero() {
			opt.Dependents = []powerpool.WorkID{prev}
		}
		id, err := pool.Submit(noop, opt)
		if err != nil {
			b.Fatalf("submit: %v", err)
		}
		prev = id
	}
	waitAll(b, pool)
}

// BenchmarkPoolLifecycle measures creating, using and disposing a pool.
func BenchmarkPoolLifecycle(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		pool := powerpool.New("lifecycle")
		for j := 0; j < 10; j++ {
			_, _ = pool.Submit(noop)
		}
		if err := pool.Dispose(context.Background()); err != nil {
			b.Fatalf("dispose: %v", err)
		}
	}
}
