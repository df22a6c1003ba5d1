//go:build !linux

package osthread

import "sync/atomic"

// Platforms without a cheap thread id syscall get a process-unique counter.
var nextID atomic.Int64

func currentID() int {
	return int(nextID.Add(1))
}

func setPriority(Priority) error {
	return nil
}
