package powerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/powerpool/internal/atomicflag"
	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
)

// WorkFunc is the body of a work. The context is canceled when the work
// is asked to stop or its timeout expires.
type WorkFunc func(ctx context.Context) (any, error)

// Action adapts a function without a result value.
func Action(fn func(ctx context.Context) error) WorkFunc {
	return func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	}
}

// Func adapts a function with a typed result value.
func Func[T any](fn func(ctx context.Context) (T, error)) WorkFunc {
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}

var (
	// ErrStopped is the error of works stopped on request.
	ErrStopped = errors.New("work stopped")

	// ErrForceStopped is the error of abandoned works.
	ErrForceStopped = errors.New("work force stopped")

	// ErrCanceled is the error of works canceled before they ran.
	ErrCanceled = errors.New("work canceled")

	// ErrDiscarded is the error of works dropped by a rejection policy.
	ErrDiscarded = fmt.Errorf("%w: discarded by reject policy", ErrCanceled)
)

// PanicError is the error of a work whose body panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("work panicked: %v", e.Value)
}

// DependencyError is the error of a work that never ran because a
// prerequisite did not succeed.
type DependencyError struct {
	ID           WorkID
	Prerequisite WorkID
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("work %s: prerequisite %s did not succeed", e.ID, e.Prerequisite)
}

// Unwrap returns ErrDependencyFailed.
func (e *DependencyError) Unwrap() error {
	return gferrors.ErrDependencyFailed
}

// Panic values raised at safe points inside work bodies.
type (
	stopSignal      struct{}
	interruptSignal struct{}
)

type claimState int32

const (
	claimCancelable claimState = iota
	claimExecuting
	claimCanceled
)

type workItem struct {
	id             WorkID
	fn             WorkFunc
	opt            WorkOption
	timeout        *TimeoutOption
	retry          *RetryOption
	placement      PlacementPolicy
	priority       int
	threadPriority ThreadPriority
	queueTime      time.Time

	// claim moves out of Cancelable exactly once per attempt cycle: to
	// Executing by the goroutine that runs it, or to Canceled.
	claim     atomicflag.Flag[claimState]
	parked    atomic.Bool
	heldBack  atomic.Bool
	stopReq   atomic.Bool
	abandoned atomic.Bool
	paused    atomic.Pointer[chan struct{}]
	cancel    atomic.Pointer[context.CancelCauseFunc]
	worker    atomic.Pointer[worker]

	startTime  atomic.Int64
	workerID   atomic.Int64
	retryCount atomic.Int32

	finished atomic.Bool
	result   atomic.Pointer[ExecuteResult]
	done     chan struct{}

	// Async state. base is set on continuations; the remaining fields are
	// used on the base work.
	base          *workItem
	isAsync       atomic.Bool
	outstanding   atomic.Int64
	bodyDone      atomic.Bool
	settled       atomic.Bool
	bodyResult    atomic.Pointer[ExecuteResult]
	firstBad      atomic.Pointer[ExecuteResult]
	asyncMu       sync.Mutex
	asyncChildren []WorkID
}

func (w *workItem) stopRequested() bool {
	if w.stopReq.Load() {
		return true
	}
	return w.base != nil && w.base.stopReq.Load()
}

func (w *workItem) canRetry() bool {
	if w.retry == nil || w.stopRequested() {
		return false
	}
	if w.retry.Policy == UnlimitedRetry {
		return true
	}
	return int(w.retryCount.Load()) < w.retry.MaxRetryCount
}

// setResult records the final result once. A ForceStopped result may
// replace an earlier one but does not count as a new completion.
func (w *workItem) setResult(res ExecuteResult) bool {
	if w.finished.CompareAndSwap(false, true) {
		w.result.Store(&res)
		return true
	}
	if res.Status == ForceStopped {
		w.result.Store(&res)
	}
	return false
}

func (w *workItem) requestStop(cause error) {
	w.stopReq.Store(true)
	if c := w.cancel.Load(); c != nil {
		(*c)(cause)
	}
}

func (w *workItem) pause() bool {
	ch := make(chan struct{})
	return w.paused.CompareAndSwap(nil, &ch)
}

func (w *workItem) resume() bool {
	ch := w.paused.Swap(nil)
	if ch == nil {
		return false
	}
	close(*ch)
	return true
}

func (w *workItem) addAsyncChild(id WorkID) {
	w.asyncMu.Lock()
	w.asyncChildren = append(w.asyncChildren, id)
	w.asyncMu.Unlock()
}

func (w *workItem) asyncChildIDs() []WorkID {
	w.asyncMu.Lock()
	defer w.asyncMu.Unlock()
	return append([]WorkID(nil), w.asyncChildren...)
}
