package stealable

import (
	"sync"
	"sync/atomic"

	"github.com/vnykmshr/powerpool/pkg/collections/deque"
	"github.com/vnykmshr/powerpool/pkg/collections/queue"
)

// Collection is a priority-stratified container of pending work.
//
// Set and Get act on the owner end. Steal and Discard take from the lowest
// priority level first, from the end the owner does not use when the
// backing allows it.
type Collection[T any] interface {
	// Set adds item at the given priority. Higher priorities are served first.
	Set(item T, priority int)

	// Get removes an item from the highest non-empty priority level.
	Get() (T, bool)

	// Steal removes an item from the lowest non-empty priority level.
	Steal() (T, bool)

	// Discard evicts the oldest item of the lowest non-empty priority level.
	Discard() (T, bool)

	// Len returns the approximate number of items held.
	Len() int

	// Priorities returns the known priority levels in descending order.
	Priorities() []int
}

// Kind identifies the ordering within one priority level.
type Kind int

const (
	// FIFO serves items of the same priority in submission order.
	FIFO Kind = iota

	// LIFO serves the most recently added item first and lets thieves take
	// the oldest one from the opposite end.
	LIFO
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case FIFO:
		return "fifo"
	case LIFO:
		return "lifo"
	default:
		return "unknown"
	}
}

// New creates a collection of the given kind.
func New[T any](kind Kind) Collection[T] {
	if kind == LIFO {
		return NewLIFO[T]()
	}
	return NewFIFO[T]()
}

// level is one priority stratum.
type level[T any] interface {
	push(item T)
	pop() (T, bool)
	steal() (T, bool)
	evict() (T, bool)
}

type fifoLevel[T any] struct {
	q *queue.Queue[T]
}

func (l fifoLevel[T]) push(item T)      { l.q.Enqueue(item) }
func (l fifoLevel[T]) pop() (T, bool)   { return l.q.TryDequeue() }
func (l fifoLevel[T]) steal() (T, bool) { return l.q.TryDequeue() }
func (l fifoLevel[T]) evict() (T, bool) { return l.q.TryDequeue() }

type lifoLevel[T any] struct {
	d *deque.Deque[T]
}

func (l lifoLevel[T]) push(item T)      { l.d.PushBottom(item) }
func (l lifoLevel[T]) pop() (T, bool)   { return l.d.TryPopBottom() }
func (l lifoLevel[T]) steal() (T, bool) { return l.d.TrySteal() }
func (l lifoLevel[T]) evict() (T, bool) { return l.d.TrySteal() }

// collection implements Collection over lazily created levels.
type collection[T any] struct {
	// ownerMu serializes owner-end access when the backing has a single
	// owner role (the deque). Nil for backings that are safe on both ends.
	ownerMu *sync.Mutex

	zero     level[T]
	levels   sync.Map // int -> level[T], zero excluded
	index    atomic.Pointer[[]int]
	count    atomic.Int64
	newLevel func() level[T]
}

// NewFIFO creates a collection whose levels are FIFO queues.
func NewFIFO[T any]() Collection[T] {
	return newCollection(nil, func() level[T] {
		return fifoLevel[T]{q: queue.New[T]()}
	})
}

// NewLIFO creates a collection whose levels are work-stealing deques.
func NewLIFO[T any]() Collection[T] {
	return newCollection(&sync.Mutex{}, func() level[T] {
		return lifoLevel[T]{d: deque.New[T](deque.DefaultCapacity)}
	})
}

func newCollection[T any](ownerMu *sync.Mutex, newLevel func() level[T]) *collection[T] {
	c := &collection[T]{
		ownerMu:  ownerMu,
		zero:     newLevel(),
		newLevel: newLevel,
	}
	initial := []int{0}
	c.index.Store(&initial)
	return c
}

func (c *collection[T]) lockOwner() {
	if c.ownerMu != nil {
		c.ownerMu.Lock()
	}
}

func (c *collection[T]) unlockOwner() {
	if c.ownerMu != nil {
		c.ownerMu.Unlock()
	}
}

func (c *collection[T]) levelFor(priority int) level[T] {
	if priority == 0 {
		return c.zero
	}
	if l, ok := c.levels.Load(priority); ok {
		return l.(level[T])
	}
	l, loaded := c.levels.LoadOrStore(priority, c.newLevel())
	if !loaded {
		c.addPriority(priority)
	}
	return l.(level[T])
}

// addPriority publishes a new descending index that includes priority.
func (c *collection[T]) addPriority(priority int) {
	for {
		old := c.index.Load()
		next := insertDescending(*old, priority)
		if c.index.CompareAndSwap(old, &next) {
			return
		}
	}
}

func insertDescending(sorted []int, p int) []int {
	next := make([]int, 0, len(sorted)+1)
	for i, v := range sorted {
		switch {
		case v == p:
			return append(next, sorted[i:]...)
		case p > v:
			next = append(next, p)
			return append(next, sorted[i:]...)
		}
		next = append(next, v)
	}
	return append(next, p)
}

func (c *collection[T]) Set(item T, priority int) {
	l := c.levelFor(priority)
	c.count.Add(1)
	c.lockOwner()
	l.push(item)
	c.unlockOwner()
}

func (c *collection[T]) Get() (T, bool) {
	index := *c.index.Load()
	c.lockOwner()
	defer c.unlockOwner()
	for _, p := range index {
		if item, ok := c.levelFor(p).pop(); ok {
			c.count.Add(-1)
			return item, true
		}
	}
	var zero T
	return zero, false
}

func (c *collection[T]) Steal() (T, bool) {
	return c.fromLowest(func(l level[T]) (T, bool) { return l.steal() })
}

func (c *collection[T]) Discard() (T, bool) {
	return c.fromLowest(func(l level[T]) (T, bool) { return l.evict() })
}

func (c *collection[T]) fromLowest(take func(level[T]) (T, bool)) (T, bool) {
	index := *c.index.Load()
	for i := len(index) - 1; i >= 0; i-- {
		if item, ok := take(c.levelFor(index[i])); ok {
			c.count.Add(-1)
			return item, true
		}
	}
	var zero T
	return zero, false
}

func (c *collection[T]) Len() int {
	n := c.count.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

func (c *collection[T]) Priorities() []int {
	index := *c.index.Load()
	out := make([]int, len(index))
	copy(out, index)
	return out
}
