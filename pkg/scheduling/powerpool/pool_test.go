package powerpool

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/powerpool/internal/testutil"
	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
)

var stored = WorkOption{ShouldStoreResult: true}

// newTestPool creates a pool that is disposed when the test ends.
func newTestPool(t *testing.T, mutate func(*Config)) *Pool {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = t.Name()
	cfg.MaxThreads = 4
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewWithConfig(cfg)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := testutil.WithTimeout(t)
		defer cancel()
		if err := p.Dispose(ctx); err != nil {
			t.Errorf("dispose: %v", err)
		}
	})
	return p
}

func value(v any) WorkFunc {
	return func(context.Context) (any, error) { return v, nil }
}

func fail(msg string) WorkFunc {
	return func(context.Context) (any, error) { return nil, errors.New(msg) }
}

// blocker returns a work that signals started and runs until release is
// closed.
func blocker(started chan<- struct{}, release <-chan struct{}) WorkFunc {
	return func(context.Context) (any, error) {
		if started != nil {
			close(started)
		}
		<-release
		return nil, nil
	}
}

func fetch(t *testing.T, p *Pool, id WorkID) ExecuteResult {
	t.Helper()
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	res, err := p.FetchWait(ctx, id)
	testutil.AssertNoError(t, err)
	return res
}

func waitAll(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, p.WaitAll(ctx))
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testutil.TestTimeout):
		t.Fatal("timeout waiting for signal")
	}
}

func TestNewWithConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", nil, false},
		{"zero max threads uses GOMAXPROCS", func(c *Config) { c.MaxThreads = 0 }, false},
		{"negative max threads", func(c *Config) { c.MaxThreads = -1 }, true},
		{"min above max", func(c *Config) { c.MaxThreads = 2; c.MinThreads = 3 }, true},
		{"negative keep alive", func(c *Config) { c.KeepAlive = -time.Second }, true},
		{"bad queue type", func(c *Config) { c.QueueType = QueueType(7) }, true},
		{"zero queue limit", func(c *Config) { c.Reject = &RejectOption{Policy: AbortPolicy} }, true},
		{"zero pool timeout", func(c *Config) { c.PoolTimeout = &TimeoutOption{} }, true},
		{"limited retry without count", func(c *Config) { c.DefaultRetry = &RetryOption{Policy: LimitedRetry} }, true},
		{"unlimited retry", func(c *Config) { c.DefaultRetry = &RetryOption{Policy: UnlimitedRetry} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			p, err := NewWithConfig(cfg)
			if tt.wantErr {
				testutil.AssertError(t, err)
				testutil.AssertEqual(t, gferrors.IsValidationError(err), true)
				testutil.AssertEqual(t, errors.Is(err, gferrors.ErrInvalidConfiguration), true)
				return
			}
			testutil.AssertNoError(t, err)
			defer p.Dispose(context.Background())
			testutil.AssertEqual(t, p.Name(), "default")
			testutil.AssertEqual(t, p.cfg.MaxThreads >= 1, true)
		})
	}
}

func TestNewUsesName(t *testing.T) {
	p := New("named")
	defer p.Dispose(context.Background())
	testutil.AssertEqual(t, p.Name(), "named")
	testutil.AssertEqual(t, p.IsRunning(), false)
}

func TestSubmitAndFetch(t *testing.T) {
	p := newTestPool(t, nil)

	id, err := p.Submit(value(42), stored)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, id.Kind(), IDNumeric)

	res := fetch(t, p, id)
	testutil.AssertEqual(t, res.Status, Succeed)
	testutil.AssertEqual(t, res.Result.(int), 42)
	testutil.AssertEqual(t, res.Err, nil)
	testutil.AssertEqual(t, res.ID, id)
	testutil.AssertNotEqual(t, res.WorkerID, 0)
	testutil.AssertEqual(t, res.StartTime.IsZero(), false)
	testutil.AssertEqual(t, res.Duration() >= 0, true)

	again, err := p.Fetch(id)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, again.Status, Succeed)
}

func TestSubmitValidation(t *testing.T) {
	p := newTestPool(t, nil)

	_, err := p.Submit(nil)
	testutil.AssertEqual(t, gferrors.IsValidationError(err), true)

	_, err = p.SubmitAction(nil)
	testutil.AssertEqual(t, gferrors.IsValidationError(err), true)

	_, err = p.Submit(value(1), WorkOption{Timeout: &TimeoutOption{}})
	testutil.AssertEqual(t, gferrors.IsValidationError(err), true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.SubmitContext(ctx, value(1))
	testutil.AssertEqual(t, errors.Is(err, context.Canceled), true)
}

func TestSubmitActionAndFunc(t *testing.T) {
	p := newTestPool(t, nil)

	var ran atomic.Bool
	id, err := p.SubmitAction(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}, stored)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, fetch(t, p, id).Status, Succeed)
	testutil.AssertEqual(t, ran.Load(), true)

	id, err = p.Submit(Func(func(ctx context.Context) (string, error) {
		return "typed", nil
	}), stored)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, fetch(t, p, id).Result.(string), "typed")
}

func TestGUIDIdentifiers(t *testing.T) {
	p := newTestPool(t, func(c *Config) { c.IDType = GUIDs })

	a, err := p.Submit(value(1))
	testutil.AssertNoError(t, err)
	b, err := p.Submit(value(2))
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, a.Kind(), IDGUID)
	testutil.AssertNotEqual(t, a, b)
	waitAll(t, p)
}

func TestOneIdlePerBusyPeriod(t *testing.T) {
	p := newTestPool(t, nil)

	var started, idled atomic.Int32
	p.Subscribe(EventPoolStarted, func(Event) { started.Add(1) })
	p.Subscribe(EventPoolIdled, func(Event) { idled.Add(1) })

	release := make(chan struct{})
	running := make(chan struct{})
	_, err := p.Submit(blocker(running, release))
	testutil.AssertNoError(t, err)
	waitClosed(t, running)

	var done atomic.Int32
	for i := 0; i < 20; i++ {
		_, err := p.SubmitAction(func(context.Context) error {
			time.Sleep(time.Millisecond)
			done.Add(1)
			return nil
		})
		testutil.AssertNoError(t, err)
	}
	testutil.AssertEqual(t, p.IsRunning(), true)
	close(release)

	waitAll(t, p)
	testutil.AssertEqual(t, done.Load(), int32(20))
	testutil.AssertEventually(t, func() bool { return idled.Load() == 1 })
	testutil.AssertEqual(t, started.Load(), int32(1))

	st := p.Stats()
	testutil.AssertEqual(t, st.Waiting, 0)
	testutil.AssertEqual(t, st.Running, 0)
	testutil.AssertEqual(t, st.State, "not_running")

	// A second period raises a second pair.
	_, err = p.Submit(value(1))
	testutil.AssertNoError(t, err)
	waitAll(t, p)
	testutil.AssertEventually(t, func() bool { return idled.Load() == 2 })
	testutil.AssertEqual(t, started.Load(), int32(2))
}

func TestWaitAllWhenIdle(t *testing.T) {
	p := newTestPool(t, nil)
	waitAll(t, p)
}

func TestMaxThreadsBoundsParallelism(t *testing.T) {
	p := newTestPool(t, func(c *Config) { c.MaxThreads = 2 })

	var g testutil.Gauge
	for i := 0; i < 12; i++ {
		_, err := p.SubmitAction(func(context.Context) error {
			g.Enter()
			defer g.Leave()
			time.Sleep(5 * time.Millisecond)
			return nil
		})
		testutil.AssertNoError(t, err)
	}
	waitAll(t, p)

	testutil.AssertEqual(t, g.Peak() <= 2, true)
	testutil.AssertEqual(t, p.Stats().Alive <= 2, true)
}

func TestPriorityOrder(t *testing.T) {
	for _, qt := range []QueueType{FIFO, LIFO} {
		p := newTestPool(t, func(c *Config) {
			c.MaxThreads = 1
			c.QueueType = qt
		})

		release := make(chan struct{})
		running := make(chan struct{})
		_, err := p.Submit(blocker(running, release))
		testutil.AssertNoError(t, err)
		waitClosed(t, running)

		order := testutil.NewRecorder[int]()
		for _, prio := range []int{1, 5, 3, 5} {
			_, err := p.SubmitAction(func(context.Context) error {
				order.Record(prio)
				return nil
			}, WorkOption{Priority: prio})
			testutil.AssertNoError(t, err)
		}
		close(release)
		waitAll(t, p)

		got := order.Values()
		want := []int{5, 5, 3, 1}
		testutil.AssertEqual(t, len(got), len(want))
		for i := range want {
			testutil.AssertEqual(t, got[i], want[i])
		}
	}
}

func TestEqualPriorityQueueOrder(t *testing.T) {
	tests := []struct {
		queue QueueType
		want  []string
	}{
		{FIFO, []string{"a", "b", "c"}},
		{LIFO, []string{"c", "b", "a"}},
	}
	for _, tt := range tests {
		p := newTestPool(t, func(c *Config) {
			c.MaxThreads = 1
			c.QueueType = tt.queue
		})

		release := make(chan struct{})
		running := make(chan struct{})
		_, err := p.Submit(blocker(running, release))
		testutil.AssertNoError(t, err)
		waitClosed(t, running)

		order := testutil.NewRecorder[string]()
		for _, name := range []string{"a", "b", "c"} {
			_, err := p.SubmitAction(func(context.Context) error {
				order.Record(name)
				return nil
			})
			testutil.AssertNoError(t, err)
		}
		close(release)
		waitAll(t, p)

		got := order.Values()
		for i := range tt.want {
			testutil.AssertEqual(t, got[i], tt.want[i])
		}
	}
}

func TestPanicBecomesFailed(t *testing.T) {
	p := newTestPool(t, nil)

	id, err := p.Submit(func(context.Context) (any, error) {
		panic("boom")
	}, stored)
	testutil.AssertNoError(t, err)

	res := fetch(t, p, id)
	testutil.AssertEqual(t, res.Status, Failed)
	var perr *PanicError
	testutil.AssertEqual(t, errors.As(res.Err, &perr), true)
	testutil.AssertEqual(t, perr.Value.(string), "boom")
	testutil.AssertEqual(t, len(perr.Stack) > 0, true)

	// The worker survives the panic.
	id, err = p.Submit(value("ok"), stored)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, fetch(t, p, id).Status, Succeed)
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name       string
		retry      RetryOption
		failures   int32
		wantStatus Status
		wantRuns   int32
		wantCount  int
	}{
		{"immediate until success", RetryOption{Behavior: ImmediateRetry, MaxRetryCount: 3}, 2, Succeed, 3, 2},
		{"requeue until success", RetryOption{Behavior: RequeueRetry, MaxRetryCount: 3}, 2, Succeed, 3, 2},
		{"requeue exhausted", RetryOption{Behavior: RequeueRetry, MaxRetryCount: 2}, 100, Failed, 3, 2},
		{"immediate exhausted", RetryOption{Behavior: ImmediateRetry, MaxRetryCount: 1}, 100, Failed, 2, 1},
		{"unlimited", RetryOption{Behavior: RequeueRetry, Policy: UnlimitedRetry}, 5, Succeed, 6, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPool(t, func(c *Config) { c.MaxThreads = 1 })

			var runs atomic.Int32
			retry := tt.retry
			id, err := p.Submit(func(context.Context) (any, error) {
				if runs.Add(1) <= tt.failures {
					return nil, errors.New("transient")
				}
				return "done", nil
			}, WorkOption{Retry: &retry, ShouldStoreResult: true})
			testutil.AssertNoError(t, err)

			res := fetch(t, p, id)
			testutil.AssertEqual(t, res.Status, tt.wantStatus)
			testutil.AssertEqual(t, runs.Load(), tt.wantRuns)
			testutil.AssertEqual(t, res.Retry != nil, true)
			testutil.AssertEqual(t, res.Retry.CurrentRetryCount, tt.wantCount)
		})
	}
}

func TestDefaultRetryApplies(t *testing.T) {
	p := newTestPool(t, func(c *Config) {
		c.DefaultRetry = &RetryOption{MaxRetryCount: 2}
	})

	var runs atomic.Int32
	id, err := p.Submit(func(context.Context) (any, error) {
		runs.Add(1)
		return nil, errors.New("always")
	}, stored)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, fetch(t, p, id).Status, Failed)
	testutil.AssertEqual(t, runs.Load(), int32(3))
}

func TestCancelQueuedWork(t *testing.T) {
	p := newTestPool(t, nil)
	testutil.AssertEqual(t, p.Pause(), true)
	testutil.AssertEqual(t, p.Pause(), false)
	testutil.AssertEqual(t, p.IsPaused(), true)

	var ran atomic.Bool
	id, err := p.SubmitAction(func(context.Context) error {
		ran.Store(true)
		return nil
	}, stored)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, p.CancelWork(id), true)
	testutil.AssertEqual(t, p.CancelWork(id), false)

	res := fetch(t, p, id)
	testutil.AssertEqual(t, res.Status, Canceled)
	testutil.AssertEqual(t, errors.Is(res.Err, ErrCanceled), true)

	testutil.AssertEqual(t, p.Resume(), true)
	waitAll(t, p)
	testutil.AssertEqual(t, ran.Load(), false)
}

func TestStopQueuedWorkCancelsIt(t *testing.T) {
	p := newTestPool(t, nil)
	p.Pause()

	var ran atomic.Bool
	id, err := p.Submit(func(context.Context) (any, error) {
		ran.Store(true)
		return "ran", nil
	}, stored)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, p.StopWork(id, false), true)
	testutil.AssertEqual(t, p.StopWork(id, false), false)

	res := fetch(t, p, id)
	testutil.AssertEqual(t, res.Status, Canceled)
	testutil.AssertEqual(t, errors.Is(res.Err, ErrCanceled), true)
	testutil.AssertEqual(t, res.Result, nil)

	p.Resume()
	waitAll(t, p)
	testutil.AssertEqual(t, ran.Load(), false)
}

func TestCancelAll(t *testing.T) {
	p := newTestPool(t, nil)
	p.Pause()

	var ids []WorkID
	for i := 0; i < 3; i++ {
		id, err := p.Submit(value(i))
		testutil.AssertNoError(t, err)
		ids = append(ids, id)
	}

	canceled := p.Cancel()
	testutil.AssertEqual(t, len(canceled), 3)
	testutil.AssertEqual(t, len(p.CancelMany(ids)), 3)

	p.Resume()
	waitAll(t, p)
}

func TestStopCooperative(t *testing.T) {
	p := newTestPool(t, nil)

	running := make(chan struct{})
	id, err := p.Submit(func(ctx context.Context) (any, error) {
		close(running)
		for {
			StopIfRequested(ctx)
			time.Sleep(time.Millisecond)
		}
	}, stored)
	testutil.AssertNoError(t, err)
	waitClosed(t, running)

	testutil.AssertEqual(t, p.StopWork(id, false), true)
	res := fetch(t, p, id)
	testutil.AssertEqual(t, res.Status, Stopped)
	testutil.AssertEqual(t, errors.Is(res.Err, ErrStopped), true)
	testutil.AssertEqual(t, p.StopWork(id, false), false)
}

func TestStopCancelsContext(t *testing.T) {
	p := newTestPool(t, nil)

	running := make(chan struct{})
	var requested atomic.Bool
	id, err := p.Submit(func(ctx context.Context) (any, error) {
		close(running)
		<-ctx.Done()
		requested.Store(CheckIfRequestedStop(ctx))
		return nil, context.Cause(ctx)
	}, stored)
	testutil.AssertNoError(t, err)
	waitClosed(t, running)

	testutil.AssertEqual(t, p.Stop(false), true)
	res := fetch(t, p, id)
	testutil.AssertEqual(t, res.Status, Stopped)
	testutil.AssertEqual(t, errors.Is(res.Err, ErrStopped), true)
	testutil.AssertEqual(t, requested.Load(), true)
	waitAll(t, p)
	testutil.AssertEqual(t, p.Stop(false), false)
}

func TestForceStop(t *testing.T) {
	p := newTestPool(t, nil)

	running := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	id, err := p.Submit(blocker(running, release), stored)
	testutil.AssertNoError(t, err)
	waitClosed(t, running)

	testutil.AssertEqual(t, p.StopWork(id, true), true)
	res := fetch(t, p, id)
	testutil.AssertEqual(t, res.Status, ForceStopped)
	testutil.AssertEqual(t, errors.Is(res.Err, ErrForceStopped), true)
	waitAll(t, p)

	// The pool keeps working on fresh workers.
	id, err = p.Submit(value("after"), stored)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, fetch(t, p, id).Status, Succeed)
}

func TestForceStopReachesSafePoint(t *testing.T) {
	p := newTestPool(t, nil)

	running := make(chan struct{})
	exited := make(chan struct{})
	id, err := p.Submit(func(ctx context.Context) (any, error) {
		defer close(exited)
		close(running)
		for {
			CheckIfRequestedStop(ctx)
			time.Sleep(time.Millisecond)
		}
	}, stored)
	testutil.AssertNoError(t, err)
	waitClosed(t, running)

	testutil.AssertEqual(t, p.StopWork(id, true), true)
	testutil.AssertEqual(t, fetch(t, p, id).Status, ForceStopped)
	waitClosed(t, exited)
}

func TestWorkTimeout(t *testing.T) {
	p := newTestPool(t, nil)

	var timedOut atomic.Int32
	p.Subscribe(EventWorkTimedOut, func(Event) { timedOut.Add(1) })

	id, err := p.Submit(func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, WorkOption{Timeout: &TimeoutOption{Duration: 20 * time.Millisecond}, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)

	res := fetch(t, p, id)
	testutil.AssertEqual(t, res.Status, Stopped)
	testutil.AssertEventually(t, func() bool { return timedOut.Load() == 1 })
}

func TestPoolTimeout(t *testing.T) {
	p := newTestPool(t, func(c *Config) {
		c.PoolTimeout = &TimeoutOption{Duration: 30 * time.Millisecond}
	})

	var timedOut atomic.Int32
	p.Subscribe(EventPoolTimedOut, func(Event) { timedOut.Add(1) })

	id, err := p.Submit(func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, stored)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, fetch(t, p, id).Status, Stopped)
	waitAll(t, p)
	testutil.AssertEqual(t, timedOut.Load(), int32(1))
}

func TestStopHoldsBackNewWork(t *testing.T) {
	p := newTestPool(t, nil)

	order := testutil.NewRecorder[string]()
	running := make(chan struct{})
	release := make(chan struct{})
	first, err := p.Submit(func(ctx context.Context) (any, error) {
		close(running)
		<-release
		order.Record("first")
		return nil, nil
	}, stored)
	testutil.AssertNoError(t, err)
	waitClosed(t, running)

	testutil.AssertEqual(t, p.Stop(false), true)
	second, err := p.SubmitAction(func(context.Context) error {
		order.Record("second")
		return nil
	}, stored)
	testutil.AssertNoError(t, err)

	time.Sleep(20 * time.Millisecond)
	testutil.AssertEqual(t, order.Len(), 0)
	close(release)

	testutil.AssertEqual(t, fetch(t, p, second).Status, Succeed)
	testutil.AssertEqual(t, fetch(t, p, first).Status, Succeed)
	got := order.Values()
	testutil.AssertEqual(t, len(got), 2)
	testutil.AssertEqual(t, got[0], "first")
	testutil.AssertEqual(t, got[1], "second")
}

func TestPauseResumeWork(t *testing.T) {
	p := newTestPool(t, nil)
	p.Pause()

	var ran atomic.Bool
	id, err := p.SubmitAction(func(context.Context) error {
		ran.Store(true)
		return nil
	}, stored)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, p.PauseWork(id), true)
	testutil.AssertEqual(t, p.PauseWork(id), false)
	p.Resume()

	time.Sleep(20 * time.Millisecond)
	testutil.AssertEqual(t, ran.Load(), false)

	testutil.AssertEqual(t, len(p.ResumeMany([]WorkID{id})), 0)
	testutil.AssertEqual(t, fetch(t, p, id).Status, Succeed)
	testutil.AssertEqual(t, ran.Load(), true)
	testutil.AssertEqual(t, p.ResumeWork(id), false)
}

func TestPauseIfRequested(t *testing.T) {
	p := newTestPool(t, nil)

	paused := make(chan struct{})
	var passed atomic.Bool
	id, err := p.Submit(func(ctx context.Context) (any, error) {
		<-paused
		PauseIfRequested(ctx)
		passed.Store(true)
		return nil, nil
	}, stored)
	testutil.AssertNoError(t, err)

	p.Pause()
	close(paused)
	time.Sleep(20 * time.Millisecond)
	testutil.AssertEqual(t, passed.Load(), false)

	p.Resume()
	testutil.AssertEqual(t, fetch(t, p, id).Status, Succeed)
	testutil.AssertEqual(t, passed.Load(), true)
}

func TestCustomIDs(t *testing.T) {
	p := newTestPool(t, nil)
	p.Pause()

	id, err := p.Submit(value(1), WorkOption{CustomID: "job"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, id, CustomID("job"))

	_, err = p.Submit(value(2), WorkOption{CustomID: "job"})
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrDuplicateWorkID), true)

	p.Resume()
	waitAll(t, p)

	_, err = p.Submit(value(3), WorkOption{CustomID: "job"})
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrDuplicateWorkID), true)

	testutil.AssertNoError(t, p.RemoveResult(id))
	_, err = p.Submit(value(4), WorkOption{CustomID: "job"})
	testutil.AssertNoError(t, err)
	waitAll(t, p)
}

func TestWorkIDFromContext(t *testing.T) {
	p := newTestPool(t, nil)

	_, ok := WorkIDFromContext(context.Background())
	testutil.AssertEqual(t, ok, false)

	seen := make(chan WorkID, 1)
	id, err := p.Submit(func(ctx context.Context) (any, error) {
		got, _ := WorkIDFromContext(ctx)
		seen <- got
		return nil, nil
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, <-seen, id)
	waitAll(t, p)
}

func TestFetchErrors(t *testing.T) {
	p := newTestPool(t, nil)

	_, err := p.Fetch(NumericID(999))
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrWorkNotFound), true)

	err = p.Wait(context.Background(), NumericID(999))
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrWorkNotFound), true)

	p.Pause()
	pending, err := p.Submit(value(1))
	testutil.AssertNoError(t, err)
	_, err = p.Fetch(pending)
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrWorkPending), true)
	testutil.AssertEqual(t, errors.Is(p.RemoveResult(pending), gferrors.ErrWorkPending), true)
	p.Resume()

	testutil.AssertNoError(t, p.Wait(context.Background(), pending))
	_, err = p.Fetch(pending)
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrWorkNotFound), true)
}

func TestFetchManyAndWaitMany(t *testing.T) {
	p := newTestPool(t, nil)

	var ids []WorkID
	for i := 0; i < 8; i++ {
		id, err := p.SubmitContext(context.Background(), func(context.Context) (any, error) {
			time.Sleep(time.Duration(8-i) * time.Millisecond)
			return i, nil
		}, stored)
		testutil.AssertNoError(t, err)
		ids = append(ids, id)
	}

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, p.WaitMany(ctx, ids))

	results, err := p.FetchMany(ctx, ids)
	testutil.AssertNoError(t, err)
	for i, res := range results {
		testutil.AssertEqual(t, res.ID, ids[i])
		testutil.AssertEqual(t, res.Result.(int), i)
	}

	err = p.WaitMany(ctx, []WorkID{ids[0], NumericID(12345)})
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrWorkNotFound), true)
}

func TestFetchAsync(t *testing.T) {
	p := newTestPool(t, nil)

	release := make(chan struct{})
	id, err := p.Submit(func(context.Context) (any, error) {
		<-release
		return "late", nil
	}, stored)
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	ch := p.FetchAsync(ctx, id)
	close(release)

	select {
	case fr := <-ch:
		testutil.AssertNoError(t, fr.Err)
		testutil.AssertEqual(t, fr.Result.Result.(string), "late")
	case <-time.After(testutil.TestTimeout):
		t.Fatal("timeout waiting for FetchAsync")
	}
}

func TestClearResults(t *testing.T) {
	store := NewMemoryStore()
	p := newTestPool(t, func(c *Config) { c.ResultStore = store })

	for i := 0; i < 3; i++ {
		_, err := p.Submit(value(i), stored)
		testutil.AssertNoError(t, err)
	}
	waitAll(t, p)
	testutil.AssertEqual(t, store.Len(), 3)

	testutil.AssertNoError(t, p.ClearResults())
	testutil.AssertEqual(t, store.Len(), 0)
	_, err := p.Fetch(NumericID(1))
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrWorkNotFound), true)
}

func TestWaitRunsQueuedWorkInline(t *testing.T) {
	p := newTestPool(t, func(c *Config) { c.MaxThreads = 1 })

	id, err := p.Submit(func(ctx context.Context) (any, error) {
		inner, err := p.SubmitContext(ctx, value("inner"), stored)
		if err != nil {
			return nil, err
		}
		if err := p.Wait(ctx, inner); err != nil {
			return nil, err
		}
		res, err := p.Fetch(inner)
		if err != nil {
			return nil, err
		}
		return res.Result, nil
	}, stored)
	testutil.AssertNoError(t, err)

	res := fetch(t, p, id)
	testutil.AssertEqual(t, res.Status, Succeed)
	testutil.AssertEqual(t, res.Result.(string), "inner")
}

func TestLongRunningDoesNotCountAgainstMaxThreads(t *testing.T) {
	p := newTestPool(t, func(c *Config) { c.MaxThreads = 1 })

	running := make(chan struct{})
	release := make(chan struct{})
	long, err := p.Submit(blocker(running, release), WorkOption{LongRunning: true, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)
	waitClosed(t, running)
	testutil.AssertEqual(t, p.Stats().LongRunning, 1)

	id, err := p.Submit(value("regular"), stored)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, fetch(t, p, id).Status, Succeed)

	close(release)
	testutil.AssertEqual(t, fetch(t, p, long).Status, Succeed)
	waitAll(t, p)
	testutil.AssertEventually(t, func() bool { return p.Stats().LongRunning == 0 })
}

func TestIdleWorkersExpire(t *testing.T) {
	p := newTestPool(t, func(c *Config) {
		c.MinThreads = 1
		c.KeepAlive = 20 * time.Millisecond
	})
	testutil.AssertEqual(t, p.Stats().Alive, 1)
	testutil.AssertEventually(t, func() bool { return p.Stats().Idle == 1 })

	release := make(chan struct{})
	var started atomic.Int32
	for i := 0; i < 4; i++ {
		_, err := p.SubmitAction(func(context.Context) error {
			started.Add(1)
			<-release
			return nil
		})
		testutil.AssertNoError(t, err)
	}
	testutil.AssertEventually(t, func() bool { return started.Load() == 4 })
	testutil.AssertEqual(t, p.Stats().Alive, 4)

	close(release)
	waitAll(t, p)
	testutil.AssertEventually(t, func() bool {
		st := p.Stats()
		return st.Alive == 1 && st.Idle == 1
	})
}

func TestWorkStealing(t *testing.T) {
	p := newTestPool(t, func(c *Config) {
		c.MaxThreads = 4
		c.DefaultPlacement = PreferLocalWorker
	})

	var g testutil.Gauge
	id, err := p.Submit(func(ctx context.Context) (any, error) {
		// Everything lands on this worker; the others must steal.
		var ids []WorkID
		for i := 0; i < 16; i++ {
			kid, err := p.SubmitContext(ctx, func(context.Context) (any, error) {
				g.Enter()
				defer g.Leave()
				time.Sleep(5 * time.Millisecond)
				return nil, nil
			})
			if err != nil {
				return nil, err
			}
			ids = append(ids, kid)
		}
		return len(ids), nil
	}, stored)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, fetch(t, p, id).Status, Succeed)
	// Spin up idle workers that can steal.
	for i := 0; i < 3; i++ {
		_, err := p.Submit(value(i))
		testutil.AssertNoError(t, err)
	}
	waitAll(t, p)
	testutil.AssertEqual(t, g.Peak() >= 2, true)
}

func TestDisposeRejectsSubmit(t *testing.T) {
	p := newTestPool(t, nil)

	testutil.AssertNoError(t, p.Dispose(context.Background()))
	testutil.AssertNoError(t, p.Dispose(context.Background()))

	_, err := p.Submit(value(1))
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrClosed), true)
}

func TestDisposeCancelsQueuedAndStopsRunning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxThreads = 1
	p, err := NewWithConfig(cfg)
	testutil.AssertNoError(t, err)

	running := make(chan struct{})
	first, err := p.Submit(func(ctx context.Context) (any, error) {
		close(running)
		<-ctx.Done()
		return nil, ctx.Err()
	}, stored)
	testutil.AssertNoError(t, err)
	waitClosed(t, running)
	queued, err := p.Submit(value(1), stored)
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, p.Dispose(ctx))

	r, err := p.Fetch(first)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, r.Status, Stopped)
	r, err = p.Fetch(queued)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, r.Status, Canceled)
}

func TestManyConcurrentSubmitters(t *testing.T) {
	p := newTestPool(t, func(c *Config) { c.MaxThreads = runtime.GOMAXPROCS(0) + 1 })

	const submitters, perSubmitter = 8, 50
	var done atomic.Int64
	errs := make(chan error, submitters)
	for s := 0; s < submitters; s++ {
		go func() {
			for i := 0; i < perSubmitter; i++ {
				if _, err := p.SubmitAction(func(context.Context) error {
					done.Add(1)
					return nil
				}, WorkOption{Priority: i % 3}); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}()
	}
	for s := 0; s < submitters; s++ {
		testutil.AssertNoError(t, <-errs)
	}
	waitAll(t, p)
	testutil.AssertEqual(t, done.Load(), int64(submitters*perSubmitter))
}

func TestForceStoppedOverwriteRepublishesOutcome(t *testing.T) {
	p := newTestPool(t, nil)

	item, err := p.newItem(value("done"), WorkOption{CustomID: "raced", ShouldStoreResult: true})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, p.register(item))

	// A normal completion wins first, then the stopper's result lands.
	p.finish(item, p.makeResult(item, "done", nil, Succeed))
	p.finish(item, p.makeResult(item, nil, ErrForceStopped, ForceStopped))

	res, err := p.Fetch(item.id)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Status, ForceStopped)
	st, ok := p.outcomes.Load(item.id)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, st.(Status), ForceStopped)

	late, err := p.Submit(value("late"), WorkOption{Dependents: []WorkID{item.id}, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)
	got := fetch(t, p, late)
	testutil.AssertEqual(t, got.Status, Failed)
	testutil.AssertEqual(t, errors.Is(got.Err, gferrors.ErrDependencyFailed), true)
}
