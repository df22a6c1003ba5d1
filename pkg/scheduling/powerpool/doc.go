// Package powerpool provides a work-stealing pool of OS-thread-bound
// workers.
//
// Works are functions submitted with optional priority, placement,
// timeout, retry, dependency and group settings. Each worker owns a
// priority-stratified queue; idle workers steal the lowest priorities of
// the busiest worker. The worker count grows on demand up to MaxThreads and
// idle workers expire after KeepAlive.
//
// # Basic Usage
//
//	pool := powerpool.New("jobs")
//	defer pool.Dispose(context.Background())
//
//	id, err := pool.Submit(func(ctx context.Context) (any, error) {
//		return compute(ctx)
//	}, powerpool.WorkOption{Priority: 10, ShouldStoreResult: true})
//	if err != nil {
//		return err
//	}
//
//	res, err := pool.FetchWait(ctx, id)
//
// # Dependencies
//
// A work listing Dependents runs only after all of them succeeded. When one
// fails, is canceled or stopped, every work depending on it transitively is
// failed with a *DependencyError without running. Registrations that would
// close a cycle are rejected with a *errors.CycleError.
//
// # Stopping
//
// Go cannot interrupt a goroutine. A cooperative stop cancels the work's
// context; the body observes it through ctx.Done, CheckIfRequestedStop or
// StopIfRequested. A forced stop completes the work as ForceStopped right
// away, moves the worker's queue elsewhere and abandons the goroutine,
// which exits when the body returns or reaches one of the helpers above.
//
// # Busy periods
//
// The pool is running from the first admitted work until nothing is
// waiting, running or pending asynchronously. Each period raises exactly
// one EventPoolStarted and one EventPoolIdled; WaitAll waits for the end of
// the current period.
package powerpool
