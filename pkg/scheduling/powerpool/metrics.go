package powerpool

import (
	"time"

	"github.com/vnykmshr/powerpool/pkg/metrics"
)

type poolMetrics struct {
	reg  *metrics.Registry
	name string
}

var _ metrics.Instrumentable = (*Pool)(nil)

// EnableMetrics starts Prometheus instrumentation. Pools sharing a
// registerer share collectors and are told apart by the pool_name label.
func (p *Pool) EnableMetrics(cfg metrics.Config) error {
	reg, err := metrics.For(cfg)
	if err != nil {
		return err
	}
	p.metrics.Store(&poolMetrics{reg: reg, name: p.name})
	p.observeWorkers()
	return nil
}

// DisableMetrics stops instrumentation. Collected series stay registered.
func (p *Pool) DisableMetrics() {
	p.metrics.Store(nil)
}

// MetricsEnabled reports whether instrumentation is active.
func (p *Pool) MetricsEnabled() bool {
	return p.metrics.Load() != nil
}

func (p *Pool) observeSubmitted() {
	if m := p.metrics.Load(); m != nil {
		m.reg.WorksSubmitted.WithLabelValues(m.name).Inc()
		m.reg.PoolWaitingWorks.WithLabelValues(m.name).Set(float64(p.waiting.Load()))
	}
}

func (p *Pool) observeStarted() {
	if m := p.metrics.Load(); m != nil {
		m.reg.WorksStarted.WithLabelValues(m.name).Inc()
		m.reg.PoolWaitingWorks.WithLabelValues(m.name).Set(float64(p.waiting.Load()))
	}
}

func (p *Pool) observeQueued(d time.Duration) {
	if m := p.metrics.Load(); m != nil {
		m.reg.WorkQueueDuration.WithLabelValues(m.name).Observe(d.Seconds())
	}
}

func (p *Pool) observeCompleted(res ExecuteResult) {
	m := p.metrics.Load()
	if m == nil {
		return
	}
	status := res.Status.String()
	m.reg.WorksCompleted.WithLabelValues(m.name, status).Inc()
	if !res.StartTime.IsZero() {
		m.reg.WorkExecutionDuration.WithLabelValues(m.name, status).Observe(res.Duration().Seconds())
	}
}

func (p *Pool) observeRejected(policy RejectPolicy) {
	if m := p.metrics.Load(); m != nil {
		m.reg.WorksRejected.WithLabelValues(m.name, policy.String()).Inc()
	}
}

func (p *Pool) observeDiscarded() {
	if m := p.metrics.Load(); m != nil {
		m.reg.WorksDiscarded.WithLabelValues(m.name).Inc()
	}
}

func (p *Pool) observeStolen(n int) {
	if m := p.metrics.Load(); m != nil {
		m.reg.WorksStolen.WithLabelValues(m.name).Add(float64(n))
	}
}

func (p *Pool) observeIdled() {
	if m := p.metrics.Load(); m != nil {
		m.reg.PoolIdleTransitions.WithLabelValues(m.name).Inc()
		m.reg.PoolWaitingWorks.WithLabelValues(m.name).Set(0)
	}
}

func (p *Pool) observeWorkers() {
	m := p.metrics.Load()
	if m == nil {
		return
	}
	m.reg.PoolWorkers.WithLabelValues(m.name, "alive").Set(float64(p.alive.Load()))
	m.reg.PoolWorkers.WithLabelValues(m.name, "idle").Set(float64(p.idle.Load()))
	m.reg.PoolWorkers.WithLabelValues(m.name, "running").Set(float64(p.running.Load()))
	m.reg.PoolWorkers.WithLabelValues(m.name, "long_running").Set(float64(p.longRunning.Load()))
}
