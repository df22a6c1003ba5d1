package testutil

import (
	"sync"
	"sync/atomic"
)

// Recorder collects values from concurrent goroutines in arrival order.
// Pool tests use it to observe start and completion order of work items.
type Recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

// NewRecorder creates an empty Recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{}
}

// Record appends v.
func (r *Recorder[T]) Record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

// Values returns a copy of everything recorded so far.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Gauge tracks a concurrently changing level and the highest level observed.
// Tests wrap work bodies with Enter/Leave to measure parallelism.
type Gauge struct {
	current atomic.Int64
	peak    atomic.Int64
}

// Enter raises the level and updates the peak.
func (g *Gauge) Enter() {
	n := g.current.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// Leave lowers the level.
func (g *Gauge) Leave() {
	g.current.Add(-1)
}

// Current returns the present level.
func (g *Gauge) Current() int64 {
	return g.current.Load()
}

// Peak returns the highest level observed.
func (g *Gauge) Peak() int64 {
	return g.peak.Load()
}
