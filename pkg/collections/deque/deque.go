package deque

import (
	"runtime"
	"sync/atomic"
)

// DefaultCapacity is the initial buffer size used when New is given a
// non-positive capacity.
const DefaultCapacity = 32

// ring is a power-of-two circular buffer. Slots hold boxed values so that
// owner writes and thief reads never race on the same memory word.
type ring[T any] struct {
	mask  int64
	slots []atomic.Pointer[T]
}

func newRing[T any](capacity int64) *ring[T] {
	return &ring[T]{
		mask:  capacity - 1,
		slots: make([]atomic.Pointer[T], capacity),
	}
}

func (r *ring[T]) capacity() int64 {
	return r.mask + 1
}

func (r *ring[T]) slot(i int64) *atomic.Pointer[T] {
	return &r.slots[i&r.mask]
}

// grow copies the live window [top, bottom) into a buffer of twice the size.
func (r *ring[T]) grow(top, bottom int64) *ring[T] {
	next := newRing[T](r.capacity() * 2)
	for i := top; i < bottom; i++ {
		next.slot(i).Store(r.slot(i).Load())
	}
	return next
}

// Deque is a Chase-Lev work-stealing deque.
//
// One owner pushes and pops at the bottom; any number of thieves steal from
// the top. The owner never waits for thieves and the CAS on top is the only
// arbitration point, so every pushed item is returned exactly once.
// PushBottom and TryPopBottom must not be called concurrently with each
// other; TrySteal is safe from any goroutine.
type Deque[T any] struct {
	top    atomic.Int64
	bottom atomic.Int64
	buf    atomic.Pointer[ring[T]]
}

// New creates a deque whose initial buffer holds at least capacity items.
func New[T any](capacity int) *Deque[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	size := int64(2)
	for size < int64(capacity) {
		size <<= 1
	}
	d := &Deque[T]{}
	d.buf.Store(newRing[T](size))
	return d
}

// PushBottom adds item at the owner end, growing the buffer when needed.
func (d *Deque[T]) PushBottom(item T) {
	b := d.bottom.Load()
	t := d.top.Load()
	r := d.buf.Load()

	if b-t >= r.capacity()-1 {
		r = r.grow(t, b)
		d.buf.Store(r)
	}

	v := item
	r.slot(b).Store(&v)
	d.bottom.Store(b + 1)
}

// TryPopBottom removes the most recently pushed item.
func (d *Deque[T]) TryPopBottom() (T, bool) {
	var zero T

	b := d.bottom.Load() - 1
	r := d.buf.Load()
	d.bottom.Store(b)
	t := d.top.Load()

	if t > b {
		// Empty: undo the speculative decrement.
		d.bottom.Store(t)
		return zero, false
	}

	slot := r.slot(b)
	p := slot.Load()
	if t < b {
		slot.CompareAndSwap(p, nil)
		return *p, true
	}

	// Last element: race thieves for it on top.
	won := d.top.CompareAndSwap(t, t+1)
	d.bottom.Store(t + 1)
	if !won {
		return zero, false
	}
	slot.CompareAndSwap(p, nil)
	return *p, true
}

// TrySteal removes the oldest item. It retries while losing races to other
// thieves or the owner and fails only when the deque is observed empty.
func (d *Deque[T]) TrySteal() (T, bool) {
	var zero T
	for {
		t := d.top.Load()
		b := d.bottom.Load()
		if t >= b {
			return zero, false
		}

		slot := d.buf.Load().slot(t)
		p := slot.Load()
		if d.top.CompareAndSwap(t, t+1) {
			slot.CompareAndSwap(p, nil)
			return *p, true
		}
		runtime.Gosched()
	}
}

// Len returns a snapshot of the number of items. It may be stale as soon as
// it returns.
func (d *Deque[T]) Len() int {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// IsEmpty reports whether the deque appeared empty.
func (d *Deque[T]) IsEmpty() bool {
	return d.Len() == 0
}

// Capacity returns the current buffer size.
func (d *Deque[T]) Capacity() int {
	return int(d.buf.Load().capacity())
}
