// Package osthread exposes the identity and scheduling priority of the
// calling OS thread. Callers must hold the thread with runtime.LockOSThread
// for the results to stay meaningful.
package osthread

// Priority is a nice-style scheduling level: lower runs sooner.
// Normal is the default level of a fresh thread.
type Priority int

const (
	Highest     Priority = -10
	AboveNormal Priority = -5
	Normal      Priority = 0
	BelowNormal Priority = 5
	Lowest      Priority = 10
)

// ID returns the identifier of the calling OS thread.
func ID() int {
	return currentID()
}

// SetPriority applies p to the calling OS thread.
// Raising priority above Normal usually needs elevated privileges; the
// error is returned for the caller to log.
func SetPriority(p Priority) error {
	return setPriority(p)
}
