package powerpool

import (
	"encoding"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status is the final state of a work.
type Status int

const (
	// Succeed works returned a nil error.
	Succeed Status = iota + 1

	// Failed works returned an error, panicked, or had a prerequisite fail.
	Failed

	// Stopped works honored a cooperative stop request.
	Stopped

	// Canceled works were removed before they ever executed.
	Canceled

	// ForceStopped works were abandoned while running.
	ForceStopped
)

var statusNames = map[Status]string{
	Succeed:      "succeed",
	Failed:       "failed",
	Stopped:      "stopped",
	Canceled:     "canceled",
	ForceStopped: "force_stopped",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("powerpool: unknown status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("powerpool: unknown status %q", name)
}

var (
	_ encoding.TextMarshaler   = Status(0)
	_ encoding.TextUnmarshaler = (*Status)(nil)
)

// RetryInfo describes the retry state of a work when its result was made.
type RetryInfo struct {
	CurrentRetryCount int
	MaxRetryCount     int
	Behavior          RetryBehavior
	Policy            RetryPolicy
}

// ExecuteResult is the final outcome of a work.
type ExecuteResult struct {
	ID       WorkID
	Result   any
	Status   Status
	Err      error
	Retry    *RetryInfo
	Priority int

	// WorkerID is the OS thread id of the worker that ran the last attempt,
	// or zero when the work never reached a worker.
	WorkerID int

	QueueTime time.Time
	StartTime time.Time
	EndTime   time.Time
}

// Duration returns the time between the start of the first attempt and
// the end of the last one.
func (r ExecuteResult) Duration() time.Duration {
	if r.StartTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// ResultStore keeps final results for later Fetch calls.
type ResultStore interface {
	Put(result ExecuteResult) error
	Get(id WorkID) (ExecuteResult, bool, error)
	Delete(id WorkID) error
	Clear() error
}

// MemoryStore is the default ResultStore.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[WorkID]ExecuteResult
}

// NewMemoryStore creates an empty in-memory result store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[WorkID]ExecuteResult)}
}

func (s *MemoryStore) Put(result ExecuteResult) error {
	s.mu.Lock()
	s.results[result.ID] = result
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(id WorkID) (ExecuteResult, bool, error) {
	s.mu.RLock()
	r, ok := s.results[id]
	s.mu.RUnlock()
	return r, ok, nil
}

func (s *MemoryStore) Delete(id WorkID) error {
	s.mu.Lock()
	delete(s.results, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.results = make(map[WorkID]ExecuteResult)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored results.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
