/*
Package stealable provides priority-stratified collections that support
work stealing.

A collection keeps one sub-collection per distinct priority. The owner
takes from the highest priority first; thieves and backpressure eviction take
from the lowest priority first, leaving urgent work to the owner.

	c := stealable.NewFIFO[*Work]()
	c.Set(w1, 5)
	c.Set(w2, 1)

	next, _ := c.Get()    // w1
	stolen, _ := c.Steal() // w2

Two backings share the contract:

  - NewFIFO: each level is a ring-buffer queue; within a level items are
    served in submission order.
  - NewLIFO: each level is a Chase-Lev deque; the owner serves the newest
    item and thieves take the oldest one without locking.

Priority levels are created on first use. Priority zero is pre-allocated.
The list of active priorities is an immutable descending slice replaced by
compare-and-swap, so readers never see a partially built index.
*/
package stealable
