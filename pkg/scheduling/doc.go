/*
Package scheduling groups the execution components of powerpool:

  - powerpool: Work-stealing pool executing works on OS-thread-bound workers
  - dependency: Prerequisite graph that releases works when their
    prerequisites finish
  - scheduler: Time-based submission into a pool, including cron

Pool:

	pool := powerpool.New("jobs")
	defer pool.Dispose(context.Background())

	a, _ := pool.Submit(fetchInput)
	b, _ := pool.Submit(transform, powerpool.WorkOption{
		Dependents:        []powerpool.WorkID{a},
		ShouldStoreResult: true,
	})
	res, err := pool.FetchWait(ctx, b)

Scheduler:

	s, _ := scheduler.NewWithConfig(scheduler.Config{Pool: pool})
	s.Start()
	defer func() { <-s.Stop() }()

	s.ScheduleAfter("warmup", warmup, time.Minute)
	s.ScheduleCron("nightly", "0 0 2 * * *", report) // 2 AM daily

All components are safe for concurrent use and honor context cancellation.
*/
package scheduling
