// Package atomicflag provides a compare-and-set guarded enum value used for
// lock-free state transitions.
package atomicflag

import "sync/atomic"

// Flag holds an int32-backed enum value. The zero Flag holds T(0).
type Flag[T ~int32] struct {
	v atomic.Int32
}

// New returns a Flag initialized to v.
func New[T ~int32](v T) *Flag[T] {
	f := &Flag[T]{}
	f.Set(v)
	return f
}

// Get returns the current value.
func (f *Flag[T]) Get() T {
	return T(f.v.Load())
}

// Set unconditionally stores v.
func (f *Flag[T]) Set(v T) {
	f.v.Store(int32(v))
}

// Swap stores v and returns the previous value.
func (f *Flag[T]) Swap(v T) T {
	return T(f.v.Swap(int32(v)))
}

// CompareAndSet stores next only if the current value is expected.
// It reports whether the transition happened.
func (f *Flag[T]) CompareAndSet(expected, next T) bool {
	return f.v.CompareAndSwap(int32(expected), int32(next))
}

// Is reports whether the current value equals v.
func (f *Flag[T]) Is(v T) bool {
	return f.Get() == v
}
