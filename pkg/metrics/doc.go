// Package metrics provides Prometheus instrumentation for powerpool components.
//
// Pools and schedulers publish to collectors looked up with For, keyed by
// registerer and namespace, and label every series with their own name:
//
//	registry := prometheus.NewRegistry()
//	cfg := powerpool.DefaultConfig()
//	cfg.Metrics = metrics.Config{Enabled: true, Registry: registry}
//	pool, err := powerpool.NewWithConfig(cfg)
//
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// # Work
//
//   - powerpool_work_submitted_total: Works admitted to the pool
//   - powerpool_work_started_total: Executions started, retries included
//   - powerpool_work_completed_total: Works that reached a final status
//   - powerpool_work_rejected_total: Works that met a saturated pool
//   - powerpool_work_discarded_total: Works dropped by a rejection policy
//   - powerpool_work_stolen_total: Works moved between workers
//   - powerpool_work_queue_duration_seconds: Queue time before first execution
//   - powerpool_work_execution_duration_seconds: Execution time
//
// # Pool
//
//   - powerpool_pool_workers: Workers by state
//   - powerpool_pool_waiting_works: Admitted works not yet executing
//   - powerpool_pool_idle_transitions_total: Idle transitions
//
// # Scheduler
//
//   - powerpool_scheduler_entries: Scheduled entries
//   - powerpool_scheduler_runs_total: Scheduled submissions by outcome
//
// # Labels
//
//   - pool_name: Name of the pool instance
//   - status: Final work status (succeed, failed, stopped, canceled, force_stopped)
//   - policy: Rejection policy applied
//   - state: Worker state (alive, idle, running, long_running)
//   - scheduler_name: Name of the scheduler instance
//   - outcome: "submitted", "rejected" or "skipped"
//
// Instrumentable components can be switched at runtime with DisableMetrics
// and EnableMetrics. Series already collected stay registered.
package metrics
