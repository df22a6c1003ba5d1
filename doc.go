/*
Package powerpool is a Go library for running many small works on a bounded
set of OS-thread-bound workers.

Scheduling (pkg/scheduling):
  - powerpool: Work-stealing pool with priorities, dependencies, groups,
    continuations, retries and timeouts
  - dependency: Prerequisite tracking with cycle detection
  - scheduler: Delayed, interval and cron submission into a pool

Collections (pkg/collections):
  - deque: Chase-Lev work-stealing deque
  - stealable: Priority-stratified queues with owner and thief ends
  - queue: Ring-buffer FIFO

Storage (pkg/storage):
  - redisstore: Results kept in Redis across processes

Example usage:

	import "github.com/vnykmshr/powerpool/pkg/scheduling/powerpool"

	pool := powerpool.New("jobs")
	defer pool.Dispose(context.Background())

	id, _ := pool.Submit(func(ctx context.Context) (any, error) {
		return compute(ctx)
	}, powerpool.WorkOption{ShouldStoreResult: true, Priority: 10})

	res, err := pool.FetchWait(ctx, id)
*/
package powerpool
