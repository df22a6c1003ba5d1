/*
Package deque provides a growable lock-free work-stealing deque.

The deque follows the Chase-Lev protocol: a single owner pushes and pops at
the bottom without synchronizing with thieves, while thieves claim items from
the top with a compare-and-swap. The owner only competes with thieves for
the very last element.

	d := deque.New[*Task](64)

	// owner goroutine
	d.PushBottom(task)
	if t, ok := d.TryPopBottom(); ok {
		run(t)
	}

	// any other goroutine
	if t, ok := d.TrySteal(); ok {
		run(t)
	}

Owner operations yield LIFO order; steals yield FIFO order. The buffer grows
by doubling when full and never shrinks. Removed slots are cleared so the
deque does not retain references to consumed items.
*/
package deque
