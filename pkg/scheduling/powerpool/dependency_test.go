package powerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/powerpool/internal/testutil"
	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
)

func TestDependentsRunAfterPrerequisites(t *testing.T) {
	p := newTestPool(t, nil)

	order := testutil.NewRecorder[string]()
	release := make(chan struct{})
	step := func(name string, gate <-chan struct{}) WorkFunc {
		return func(context.Context) (any, error) {
			if gate != nil {
				<-gate
			}
			order.Record(name)
			return name, nil
		}
	}

	a, err := p.Submit(step("a", release))
	testutil.AssertNoError(t, err)
	b, err := p.Submit(step("b", release))
	testutil.AssertNoError(t, err)
	c, err := p.Submit(step("c", nil), WorkOption{Dependents: []WorkID{a, b}, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, p.Stats().Parked, 1)
	_, err = p.Fetch(c)
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrWorkPending), true)

	close(release)
	testutil.AssertEqual(t, fetch(t, p, c).Status, Succeed)

	got := order.Values()
	testutil.AssertEqual(t, len(got), 3)
	testutil.AssertEqual(t, got[2], "c")
	testutil.AssertEqual(t, p.Stats().Parked, 0)
}

func TestFinishedPrerequisites(t *testing.T) {
	p := newTestPool(t, nil)

	ok, err := p.Submit(value("ok"))
	testutil.AssertNoError(t, err)
	bad, err := p.Submit(fail("bad"))
	testutil.AssertNoError(t, err)
	waitAll(t, p)

	after, err := p.Submit(value("after"), WorkOption{Dependents: []WorkID{ok}, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, fetch(t, p, after).Status, Succeed)

	doomed, err := p.Submit(value("never"), WorkOption{Dependents: []WorkID{ok, bad}, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)
	res := fetch(t, p, doomed)
	testutil.AssertEqual(t, res.Status, Failed)

	var derr *DependencyError
	testutil.AssertEqual(t, errors.As(res.Err, &derr), true)
	testutil.AssertEqual(t, derr.ID, doomed)
	testutil.AssertEqual(t, derr.Prerequisite, bad)
	waitAll(t, p)
}

func TestFailureCascades(t *testing.T) {
	p := newTestPool(t, nil)

	release := make(chan struct{})
	ran := testutil.NewRecorder[string]()
	root, err := p.Submit(func(context.Context) (any, error) {
		<-release
		return nil, errors.New("root failed")
	})
	testutil.AssertNoError(t, err)

	mid, err := p.Submit(func(context.Context) (any, error) {
		ran.Record("mid")
		return nil, nil
	}, WorkOption{Dependents: []WorkID{root}, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)
	leaf, err := p.Submit(func(context.Context) (any, error) {
		ran.Record("leaf")
		return nil, nil
	}, WorkOption{Dependents: []WorkID{mid}, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)

	close(release)
	for _, id := range []WorkID{mid, leaf} {
		res := fetch(t, p, id)
		testutil.AssertEqual(t, res.Status, Failed)
		testutil.AssertEqual(t, errors.Is(res.Err, gferrors.ErrDependencyFailed), true)
	}
	waitAll(t, p)
	testutil.AssertEqual(t, ran.Len(), 0)
}

func TestCanceledPrerequisiteFailsDependents(t *testing.T) {
	p := newTestPool(t, nil)
	p.Pause()

	pre, err := p.Submit(value("pre"))
	testutil.AssertNoError(t, err)
	dep, err := p.Submit(value("dep"), WorkOption{Dependents: []WorkID{pre}, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, p.CancelWork(pre), true)
	res := fetch(t, p, dep)
	testutil.AssertEqual(t, res.Status, Failed)

	p.Resume()
	waitAll(t, p)
}

func TestCancelParkedWork(t *testing.T) {
	p := newTestPool(t, nil)

	release := make(chan struct{})
	pre, err := p.Submit(blocker(nil, release))
	testutil.AssertNoError(t, err)
	parked, err := p.Submit(value("parked"), WorkOption{Dependents: []WorkID{pre}, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)
	child, err := p.Submit(value("child"), WorkOption{Dependents: []WorkID{parked}, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, p.CancelWork(parked), true)
	testutil.AssertEqual(t, fetch(t, p, parked).Status, Canceled)
	testutil.AssertEqual(t, fetch(t, p, child).Status, Failed)

	close(release)
	waitAll(t, p)
	testutil.AssertEqual(t, p.Stats().Parked, 0)
}

func TestDependencyCycleRejected(t *testing.T) {
	p := newTestPool(t, nil)

	// "y" is unknown, so x waits for it.
	x, err := p.Submit(value("x"), WorkOption{CustomID: "x", Dependents: []WorkID{CustomID("y")}, ShouldStoreResult: true})
	testutil.AssertNoError(t, err)

	_, err = p.Submit(value("y"), WorkOption{CustomID: "y", Dependents: []WorkID{x}})
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrCycleDetected), true)
	var cerr *gferrors.CycleError
	testutil.AssertEqual(t, errors.As(err, &cerr), true)
	testutil.AssertEqual(t, cerr.Graph, "dependency")

	// The rejected ID stays free.
	_, err = p.Submit(value("y"), WorkOption{CustomID: "y"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, fetch(t, p, x).Status, Succeed)
	waitAll(t, p)
}

func TestPublishedDependentIsNotRunInline(t *testing.T) {
	p := newTestPool(t, nil)

	var ran atomic.Bool
	item, err := p.newItem(func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	}, WorkOption{CustomID: "gated", Dependents: []WorkID{CustomID("missing")}})
	testutil.AssertNoError(t, err)

	// Visible to waiters but not yet handed to the dependency controller.
	p.waiting.Add(1)
	testutil.AssertNoError(t, p.publish(item))
	testutil.AssertEqual(t, item.parked.Load(), true)

	waited := make(chan error, 1)
	_, err = p.Submit(func(ctx context.Context) (any, error) {
		wctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		waited <- p.Wait(wctx, item.id)
		return nil, nil
	})
	testutil.AssertNoError(t, err)

	select {
	case err = <-waited:
	case <-time.After(testutil.TestTimeout):
		t.Fatal("Wait did not return")
	}
	testutil.AssertEqual(t, errors.Is(err, context.DeadlineExceeded), true)
	testutil.AssertEqual(t, ran.Load(), false)

	testutil.AssertEqual(t, p.CancelWork(item.id), true)
	waitAll(t, p)
	testutil.AssertEqual(t, ran.Load(), false)
}
