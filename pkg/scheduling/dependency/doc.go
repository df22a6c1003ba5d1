/*
Package dependency provides a DAG controller that holds work back until its
prerequisites complete.

The controller does not run anything itself. Its owner registers each work
item with the IDs it depends on, reports every completion, and receives
release and failure callbacks:

	ctrl := dependency.New(dependency.Config[string]{
		Lookup:    outcomeOf,            // results that finished earlier
		OnRelease: func(id string) { schedule(id) },
		OnFail:    func(id, cause string) { failWithoutRunning(id, cause) },
	})

	status, err := ctrl.Register("report", []string{"extract", "transform"})
	// ... later, from the scheduler's completion path
	ctrl.Complete("extract", true)

Guarantees:

  - Cycles are rejected at registration with an *errors.CycleError; the
    graph is left unchanged.
  - A node whose prerequisite already failed is reported Failed and is not
    inserted ("dependency poisoning").
  - Release and failure are one-shot compare-and-set transitions per node,
    so concurrent completions release or fail a node exactly once.
  - Failure is eager: the whole descendant closure is failed when a
    prerequisite fails.
  - Callbacks run outside the graph lock and may call back into the
    controller.
*/
package dependency
