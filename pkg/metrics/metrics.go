package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for powerpool components.
type Registry struct {
	// Work Metrics
	WorksSubmitted        *prometheus.CounterVec
	WorksStarted          *prometheus.CounterVec
	WorksCompleted        *prometheus.CounterVec
	WorksRejected         *prometheus.CounterVec
	WorksDiscarded        *prometheus.CounterVec
	WorksStolen           *prometheus.CounterVec
	WorkQueueDuration     *prometheus.HistogramVec
	WorkExecutionDuration *prometheus.HistogramVec

	// Pool Metrics
	PoolWorkers         *prometheus.GaugeVec
	PoolWaitingWorks    *prometheus.GaugeVec
	PoolIdleTransitions *prometheus.CounterVec

	// Scheduler Metrics
	SchedulerEntries *prometheus.GaugeVec
	SchedulerRuns    *prometheus.CounterVec
}

type sharedKey struct {
	reg prometheus.Registerer
	ns  string
}

var (
	sharedMu sync.Mutex
	shared   = map[sharedKey]*Registry{}
)

// Default returns the registry bound to prometheus.DefaultRegisterer,
// creating it on first use.
func Default() *Registry {
	r, err := For(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return r
}

// For returns the registry of cfg's registerer and namespace, creating it
// on first use, so that several components can share one registerer.
// Constant labels are taken from the first call.
func For(cfg Config) (r *Registry, err error) {
	cfg = cfg.withDefaults()
	key := sharedKey{reg: cfg.Registry, ns: cfg.Namespace}

	sharedMu.Lock()
	defer sharedMu.Unlock()
	if r, ok := shared[key]; ok {
		return r, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, fmt.Errorf("metrics: registering collectors: %v", rec)
		}
	}()
	r = NewRegistryWithConfig(cfg)
	shared[key] = r
	return r, nil
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Registry: reg})
}

// NewRegistryWithConfig creates a registry honoring the namespace and
// constant labels of cfg. Registering the same namespace twice on one
// registerer panics, as with promauto.
func NewRegistryWithConfig(cfg Config) *Registry {
	cfg = cfg.withDefaults()
	ns := cfg.Namespace
	factory := promauto.With(cfg.Registry)

	return &Registry{
		WorksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "work",
				Name:        "submitted_total",
				Help:        "Total number of works admitted to the pool",
				ConstLabels: cfg.Labels,
			},
			[]string{"pool_name"},
		),

		WorksStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "work",
				Name:        "started_total",
				Help:        "Total number of work executions started, retries included",
				ConstLabels: cfg.Labels,
			},
			[]string{"pool_name"},
		),

		WorksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "work",
				Name:        "completed_total",
				Help:        "Total number of works that reached a final status",
				ConstLabels: cfg.Labels,
			},
			[]string{"pool_name", "status"},
		),

		WorksRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "work",
				Name:        "rejected_total",
				Help:        "Total number of works that met a saturated pool",
				ConstLabels: cfg.Labels,
			},
			[]string{"pool_name", "policy"},
		),

		WorksDiscarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "work",
				Name:        "discarded_total",
				Help:        "Total number of works dropped by a rejection policy",
				ConstLabels: cfg.Labels,
			},
			[]string{"pool_name"},
		),

		WorksStolen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "work",
				Name:        "stolen_total",
				Help:        "Total number of works moved between workers by stealing",
				ConstLabels: cfg.Labels,
			},
			[]string{"pool_name"},
		),

		WorkQueueDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "work",
				Name:        "queue_duration_seconds",
				Help:        "Time works spent queued before their first execution",
				Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
				ConstLabels: cfg.Labels,
			},
			[]string{"pool_name"},
		),

		WorkExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "work",
				Name:        "execution_duration_seconds",
				Help:        "Time spent executing works",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: cfg.Labels,
			},
			[]string{"pool_name", "status"},
		),

		PoolWorkers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "pool",
				Name:        "workers",
				Help:        "Number of workers by state (alive, idle, running, long_running)",
				ConstLabels: cfg.Labels,
			},
			[]string{"pool_name", "state"},
		),

		PoolWaitingWorks: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "pool",
				Name:        "waiting_works",
				Help:        "Number of admitted works not yet executing",
				ConstLabels: cfg.Labels,
			},
			[]string{"pool_name"},
		),

		PoolIdleTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "pool",
				Name:        "idle_transitions_total",
				Help:        "Total number of times the pool became idle",
				ConstLabels: cfg.Labels,
			},
			[]string{"pool_name"},
		),

		SchedulerEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "scheduler",
				Name:        "entries",
				Help:        "Number of scheduled entries",
				ConstLabels: cfg.Labels,
			},
			[]string{"scheduler_name"},
		),

		SchedulerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "scheduler",
				Name:        "runs_total",
				Help:        "Total number of scheduled submissions by outcome",
				ConstLabels: cfg.Labels,
			},
			[]string{"scheduler_name", "outcome"},
		),
	}
}
