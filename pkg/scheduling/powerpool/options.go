package powerpool

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnykmshr/powerpool/internal/osthread"
	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
	"github.com/vnykmshr/powerpool/pkg/common/validation"
	"github.com/vnykmshr/powerpool/pkg/metrics"
)

// QueueType selects the order of works of equal priority inside a worker.
type QueueType int

const (
	// FIFO runs works of equal priority in submission order.
	FIFO QueueType = iota

	// LIFO runs the most recently queued work of a priority first.
	LIFO
)

// PlacementPolicy decides which worker receives a submitted work.
type PlacementPolicy int

const (
	// PlacementDefault defers to Config.DefaultPlacement.
	PlacementDefault PlacementPolicy = iota

	// PreferIdleThenLeastLoaded tries an idle worker, then a new worker,
	// then the least loaded one.
	PreferIdleThenLeastLoaded

	// PreferIdleThenLocal tries an idle worker, then a new worker, then the
	// worker that is submitting, then the least loaded one.
	PreferIdleThenLocal

	// PreferLocalWorker keeps work submitted from inside a running work on
	// the submitting worker.
	PreferLocalWorker
)

func (p PlacementPolicy) String() string {
	switch p {
	case PlacementDefault:
		return "default"
	case PreferIdleThenLeastLoaded:
		return "prefer_idle_then_least_loaded"
	case PreferIdleThenLocal:
		return "prefer_idle_then_local"
	case PreferLocalWorker:
		return "prefer_local_worker"
	default:
		return "unknown"
	}
}

// RejectPolicy decides what happens to a work that meets a saturated pool.
type RejectPolicy int

const (
	// AbortPolicy fails the submission with ErrWorkRejected.
	AbortPolicy RejectPolicy = iota

	// CallerRunsPolicy executes the work on the submitting goroutine.
	CallerRunsPolicy

	// DiscardPolicy drops the work; its result is Canceled.
	DiscardPolicy

	// DiscardOldestPolicy drops the oldest lowest-priority work of the
	// busiest worker and queues the new work in its place.
	DiscardOldestPolicy
)

func (p RejectPolicy) String() string {
	switch p {
	case AbortPolicy:
		return "abort"
	case CallerRunsPolicy:
		return "caller_runs"
	case DiscardPolicy:
		return "discard"
	case DiscardOldestPolicy:
		return "discard_oldest"
	default:
		return "unknown"
	}
}

// RejectOption enables saturation handling. A pool is saturated when every
// worker exists (MaxThreads reached) and the least loaded one already holds
// ThreadQueueLimit waiting works.
type RejectOption struct {
	Policy           RejectPolicy
	ThreadQueueLimit int
}

// TimeoutOption bounds the run time of a work or of a whole pool cycle.
type TimeoutOption struct {
	Duration time.Duration

	// ForceStop abandons the running goroutine instead of asking the work
	// to stop.
	ForceStop bool
}

// RetryBehavior selects where a failed attempt is retried.
type RetryBehavior int

const (
	// ImmediateRetry runs the next attempt on the same worker right away.
	ImmediateRetry RetryBehavior = iota

	// RequeueRetry places the next attempt like a new submission.
	RequeueRetry
)

// RetryPolicy bounds the number of attempts.
type RetryPolicy int

const (
	// LimitedRetry stops after MaxRetryCount retries.
	LimitedRetry RetryPolicy = iota

	// UnlimitedRetry retries until an attempt does not fail.
	UnlimitedRetry
)

// RetryOption retries works whose attempts end Failed. Stopped, canceled
// and dependency-failed works are never retried.
type RetryOption struct {
	Behavior      RetryBehavior
	Policy        RetryPolicy
	MaxRetryCount int
}

// ThreadPriority is the OS scheduling level applied to the worker thread
// for the duration of a work.
type ThreadPriority = osthread.Priority

const (
	ThreadPriorityHighest     = osthread.Highest
	ThreadPriorityAboveNormal = osthread.AboveNormal
	ThreadPriorityNormal      = osthread.Normal
	ThreadPriorityBelowNormal = osthread.BelowNormal
	ThreadPriorityLowest      = osthread.Lowest
)

// WorkOption customizes a single submission. The zero value is valid.
type WorkOption struct {
	// CustomID replaces the generated ID. It must not be in use.
	CustomID string

	// Group adds the work to a named group.
	Group string

	// Timeout overrides Config.DefaultWorkTimeout.
	Timeout *TimeoutOption

	// Callback receives the final result, after events are raised.
	Callback func(ExecuteResult)

	// Priority orders works inside a worker: higher runs first.
	Priority int

	// ThreadPriority is applied to the worker thread while the work runs.
	ThreadPriority ThreadPriority

	// IsBackground works do not hold up Dispose; they are force stopped.
	IsBackground bool

	// Dependents lists works that must succeed before this one may run.
	Dependents []WorkID

	// LongRunning works get a dedicated worker that does not count against
	// MaxThreads.
	LongRunning bool

	// Retry overrides Config.DefaultRetry.
	Retry *RetryOption

	// ShouldStoreResult keeps the result in the ResultStore for Fetch.
	ShouldStoreResult bool

	// Placement overrides Config.DefaultPlacement.
	Placement PlacementPolicy

	// AutoCheckStopOnAsyncTask skips continuations once the async base
	// was asked to stop.
	AutoCheckStopOnAsyncTask bool
}

// Config holds configuration options for creating a pool.
type Config struct {
	// Name labels logs and metrics.
	Name string

	// MaxThreads caps the workers serving regular works.
	// Defaults to runtime.GOMAXPROCS(0).
	MaxThreads int

	// MinThreads workers are created up front and never expire.
	MinThreads int

	// KeepAlive is how long an idle worker survives. Zero keeps workers
	// until Dispose.
	KeepAlive time.Duration

	// QueueType orders works of equal priority.
	QueueType QueueType

	// IDType selects generated work IDs.
	IDType WorkIDType

	// DefaultPlacement is used when a work does not choose a policy.
	DefaultPlacement PlacementPolicy

	// ThreadPriority is applied to workers when a work does not choose one.
	ThreadPriority ThreadPriority

	// Reject enables saturation handling. Nil queues without bound.
	Reject *RejectOption

	// PoolTimeout bounds each busy period of the pool.
	PoolTimeout *TimeoutOption

	// DefaultWorkTimeout applies to works without their own Timeout.
	DefaultWorkTimeout *TimeoutOption

	// DefaultRetry applies to works without their own Retry.
	DefaultRetry *RetryOption

	// DefaultCallback receives every final result, after the work's own
	// Callback.
	DefaultCallback func(ExecuteResult)

	// ResultStore keeps results of works with ShouldStoreResult.
	// Nil uses an in-memory store.
	ResultStore ResultStore

	// Logger receives pool logs. Nil discards them.
	Logger *zerolog.Logger

	// Metrics enables Prometheus instrumentation at construction.
	Metrics metrics.Config
}

const module = "powerpool"

// Default values.
const (
	DefaultKeepAlive = 10 * time.Second
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxThreads:       runtime.GOMAXPROCS(0),
		KeepAlive:        DefaultKeepAlive,
		QueueType:        FIFO,
		IDType:           NumericIDs,
		DefaultPlacement: PreferIdleThenLeastLoaded,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidatePositive(module, "MaxThreads", c.MaxThreads); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative(module, "MinThreads", c.MinThreads); err != nil {
		return err
	}
	if err := validation.ValidateNotGreater(module, "MinThreads", c.MinThreads, "MaxThreads", c.MaxThreads); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration(module, "KeepAlive", c.KeepAlive); err != nil {
		return err
	}
	if c.QueueType != FIFO && c.QueueType != LIFO {
		return gferrors.NewValidationError(module, "QueueType", c.QueueType, "unknown queue type")
	}
	if c.DefaultPlacement < PlacementDefault || c.DefaultPlacement > PreferLocalWorker {
		return gferrors.NewValidationError(module, "DefaultPlacement", c.DefaultPlacement, "unknown placement policy")
	}
	if c.Reject != nil {
		if err := validation.ValidatePositive(module, "Reject.ThreadQueueLimit", c.Reject.ThreadQueueLimit); err != nil {
			return err
		}
		if c.Reject.Policy < AbortPolicy || c.Reject.Policy > DiscardOldestPolicy {
			return gferrors.NewValidationError(module, "Reject.Policy", c.Reject.Policy, "unknown reject policy")
		}
	}
	if err := validateTimeout("PoolTimeout", c.PoolTimeout); err != nil {
		return err
	}
	if err := validateTimeout("DefaultWorkTimeout", c.DefaultWorkTimeout); err != nil {
		return err
	}
	return validateRetry("DefaultRetry", c.DefaultRetry)
}

func validateTimeout(field string, t *TimeoutOption) error {
	if t == nil {
		return nil
	}
	if t.Duration <= 0 {
		return gferrors.NewValidationError(module, field+".Duration", t.Duration, "must be positive").
			WithHint("leave the option nil to disable the timeout")
	}
	return nil
}

func validateRetry(field string, r *RetryOption) error {
	if r == nil {
		return nil
	}
	if r.Policy == LimitedRetry && r.MaxRetryCount <= 0 {
		return gferrors.NewValidationError(module, field+".MaxRetryCount", r.MaxRetryCount, "must be positive for LimitedRetry").
			WithHint("use UnlimitedRetry to retry without bound")
	}
	return nil
}

func (o WorkOption) validate() error {
	if err := validateTimeout("WorkOption.Timeout", o.Timeout); err != nil {
		return err
	}
	return validateRetry("WorkOption.Retry", o.Retry)
}
