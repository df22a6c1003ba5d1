/*
Package scheduler releases works into a powerpool at chosen times: once, on
a fixed interval, or on a cron expression.

Basic Usage:

	pool := powerpool.New("reports")
	defer pool.Dispose(context.Background())

	s, err := scheduler.NewWithConfig(scheduler.Config{Pool: pool})
	if err != nil {
		return err
	}
	s.Start()
	defer func() { <-s.Stop() }()

	report := func(ctx context.Context) (any, error) {
		return buildReport(ctx)
	}

	// Once, five minutes from now
	s.ScheduleAfter("warmup", report, 5*time.Minute)

	// Every 30 seconds, starting now
	s.ScheduleRepeating("refresh", report, 30*time.Second)

	// 2:30 PM on weekdays, kept for Fetch
	s.ScheduleCron("daily", "0 30 14 * * 1-5", report,
		powerpool.WorkOption{ShouldStoreResult: true})

Each due entry becomes one Submit call on the pool, so the pool's
priorities, retries, placement and rejection policies all apply. A
submission the pool rejects is logged and counted; the entry stays
scheduled.

Cron Entries:

Expressions are parsed by robfig/cron with an optional seconds field and
descriptors such as "@hourly" or "@every 90s". CronOptions adds run
limits, overlap skipping and error handling:

	s.ScheduleCronWithOptions("sync", "@every 10s", syncWork, scheduler.CronOptions{
		MaxRuns:            100,
		SkipIfStillRunning: true,
		StopOnError:        true,
		OnError: func(id string, res powerpool.ExecuteResult) {
			log.Printf("%s failed: %v", id, res.Err)
		},
	})

Entry Management:

	for _, e := range s.List() {
		fmt.Println(e.ID, e.RunAt, e.Runs)
	}
	s.UpdateCron("sync", "@every 1m")
	s.Cancel("warmup")
	s.CancelAll()

Configuration:

	s, err := scheduler.NewWithConfig(scheduler.Config{
		Pool:         pool,
		Name:         "nightly",
		Location:     time.UTC,
		TickInterval: 20 * time.Millisecond,
		MaxEntries:   500,
		Logger:       &logger,
		Metrics:      metrics.DefaultConfig(),
	})

Without Config.Pool the scheduler creates a pool of its own and disposes it
when stopped.

Metrics:

With metrics enabled the scheduler reports scheduler_entries and
scheduler_runs_total with an outcome label of "submitted", "rejected" or
"skipped".
*/
package scheduler
