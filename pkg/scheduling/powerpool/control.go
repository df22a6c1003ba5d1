package powerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
)

// waitSpins bounds the busy wait before Wait blocks on the done channel.
const waitSpins = 64

func (p *Pool) liveItem(id WorkID) (*workItem, bool) {
	v, ok := p.works.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*workItem), true
}

// Wait blocks until the work finished. Called from inside a running work
// of this pool, it runs the awaited work itself when that work is still
// queued, so that a worker never waits on work queued behind it.
func (p *Pool) Wait(ctx context.Context, id WorkID) error {
	item, ok := p.liveItem(id)
	if !ok {
		if _, done := p.outcomes.Load(id); done {
			return nil
		}
		return gferrors.NewOperationError(module, "Wait", gferrors.ErrWorkNotFound).WithContext(id.String())
	}
	return p.waitItem(ctx, item)
}

func (p *Pool) waitItem(ctx context.Context, item *workItem) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for i := 0; i < waitSpins; i++ {
		select {
		case <-item.done:
			return nil
		default:
		}
		runtime.Gosched()
	}

	if s := scopeFrom(ctx); s != nil && s.pool == p && s.worker != nil && s.item != item {
		if !item.parked.Load() && !item.heldBack.Load() && p.claimForExecution(item) {
			p.runInline(item, s.worker)
		}
	}

	select {
	case <-item.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitMany waits for every listed work. It returns the first error.
func (p *Pool) WaitMany(ctx context.Context, ids []WorkID) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error { return p.Wait(gctx, id) })
	}
	return g.Wait()
}

// Stop asks every work of the current busy period to stop: queued and
// parked works are canceled, running works are stopped cooperatively or,
// with force, abandoned. Works submitted meanwhile are held back until the
// pool is idle. It returns false when the pool was not running.
func (p *Pool) Stop(force bool) bool {
	if p.state.Is(poolNotRunning) {
		return false
	}
	p.stopping.Store(true)
	p.log.Info().Bool("force", force).Msg("stopping pool")

	p.works.Range(func(_, v any) bool {
		p.stopItem(v.(*workItem), force)
		return true
	})
	p.checkIdle()
	if p.state.Is(poolNotRunning) && p.stopping.CompareAndSwap(true, false) {
		p.releaseHeldBack()
	}
	return true
}

// StopWork stops one work. Queued works are canceled. It returns false
// when the work is unknown or already final.
func (p *Pool) StopWork(id WorkID, force bool) bool {
	item, ok := p.liveItem(id)
	if !ok {
		return false
	}
	return p.stopItem(item, force)
}

// StopMany stops the listed works and returns those that could not be
// stopped.
func (p *Pool) StopMany(ids []WorkID, force bool) []WorkID {
	return p.each(ids, func(id WorkID) bool { return p.StopWork(id, force) })
}

func (p *Pool) stopItem(item *workItem, force bool) bool {
	if p.cancelItem(item) {
		return true
	}
	if item.finished.Load() {
		return false
	}
	item.requestStop(ErrStopped)
	for _, kid := range item.asyncChildIDs() {
		if k, ok := p.liveItem(kid); ok {
			p.stopItem(k, force)
		}
	}
	if force {
		p.forceStop(item)
	}
	return true
}

// forceStop abandons the goroutine running item. The stopper takes the
// end of the work from the worker, completes it as ForceStopped and
// retires the worker; the goroutine exits once the work body returns or
// reaches a safe point.
func (p *Pool) forceStop(item *workItem) bool {
	w := item.worker.Load()
	if w == nil {
		return false
	}
	for !w.held.CompareAndSet(heldFree, heldByStopper) {
		if w.current.Load() != item {
			return false
		}
		runtime.Gosched()
	}
	if w.current.Load() != item {
		w.held.Set(heldFree)
		return false
	}

	w.interrupted.Store(true)
	item.abandoned.Store(true)
	item.requestStop(ErrForceStopped)
	p.log.Info().Stringer("work", item.id).Int("worker", w.id).Msg("force stopping work")

	p.retireWorker(w)
	w.releaseWaitGroup()
	p.completeExecution(item, p.makeResult(item, nil, ErrForceStopped, ForceStopped))
	p.checkIdle()
	return true
}

// cancelItem cancels a work that has not started.
func (p *Pool) cancelItem(item *workItem) bool {
	if !item.claim.CompareAndSet(claimCancelable, claimCanceled) {
		return false
	}
	if !item.heldBack.CompareAndSwap(true, false) {
		p.waiting.Add(-1)
	}
	if item.parked.Load() {
		p.deps.Withdraw(item.id)
	}
	p.finish(item, p.makeResult(item, nil, ErrCanceled, Canceled))
	p.checkIdle()
	return true
}

// Cancel cancels every work that has not started and returns their IDs.
func (p *Pool) Cancel() []WorkID {
	var canceled []WorkID
	p.works.Range(func(_, v any) bool {
		item := v.(*workItem)
		if p.cancelItem(item) {
			canceled = append(canceled, item.id)
		}
		return true
	})
	return canceled
}

// CancelWork cancels a work that has not started.
func (p *Pool) CancelWork(id WorkID) bool {
	item, ok := p.liveItem(id)
	if !ok {
		return false
	}
	return p.cancelItem(item)
}

// CancelMany cancels the listed works and returns those that had already
// started, finished or were unknown.
func (p *Pool) CancelMany(ids []WorkID) []WorkID {
	return p.each(ids, p.CancelWork)
}

// Pause keeps workers from starting new works until Resume. Running works
// observe it through PauseIfRequested.
func (p *Pool) Pause() bool {
	ch := make(chan struct{})
	if !p.pauseCh.CompareAndSwap(nil, &ch) {
		return false
	}
	p.log.Info().Msg("pool paused")
	return true
}

// Resume lifts Pause.
func (p *Pool) Resume() bool {
	ch := p.pauseCh.Swap(nil)
	if ch == nil {
		return false
	}
	close(*ch)
	p.log.Info().Msg("pool resumed")
	return true
}

// IsPaused reports whether Pause is in effect.
func (p *Pool) IsPaused() bool {
	return p.pauseCh.Load() != nil
}

// PauseWork pauses one work: a queued work does not start and a running
// one blocks in PauseIfRequested until ResumeWork.
func (p *Pool) PauseWork(id WorkID) bool {
	item, ok := p.liveItem(id)
	if !ok {
		return false
	}
	return item.pause()
}

// ResumeWork lifts PauseWork.
func (p *Pool) ResumeWork(id WorkID) bool {
	item, ok := p.liveItem(id)
	if !ok {
		return false
	}
	return item.resume()
}

// PauseMany pauses the listed works and returns those that were not paused.
func (p *Pool) PauseMany(ids []WorkID) []WorkID {
	return p.each(ids, p.PauseWork)
}

// ResumeMany resumes the listed works and returns those that were not paused.
func (p *Pool) ResumeMany(ids []WorkID) []WorkID {
	return p.each(ids, p.ResumeWork)
}

func (p *Pool) each(ids []WorkID, op func(WorkID) bool) []WorkID {
	var failed []WorkID
	for _, id := range ids {
		if !op(id) {
			failed = append(failed, id)
		}
	}
	return failed
}

// FetchResult is delivered by FetchAsync.
type FetchResult struct {
	Result ExecuteResult
	Err    error
}

// Fetch returns the stored result of a work. It fails with ErrWorkPending
// while the work is not final and ErrWorkNotFound when no result was
// stored.
func (p *Pool) Fetch(id WorkID) (ExecuteResult, error) {
	if _, ok := p.liveItem(id); ok {
		return ExecuteResult{}, gferrors.ErrWorkPending
	}
	res, ok, err := p.results.Get(id)
	if err != nil {
		return ExecuteResult{}, gferrors.NewOperationError(module, "Fetch", err).WithContext(id.String())
	}
	if !ok {
		return ExecuteResult{}, gferrors.ErrWorkNotFound
	}
	return res, nil
}

// FetchWait waits for a work and returns its result, stored or not.
func (p *Pool) FetchWait(ctx context.Context, id WorkID) (ExecuteResult, error) {
	item, ok := p.liveItem(id)
	if !ok {
		return p.Fetch(id)
	}
	if err := p.waitItem(ctx, item); err != nil {
		return ExecuteResult{}, err
	}
	return *item.result.Load(), nil
}

// FetchAsync delivers the result of FetchWait on a buffered channel.
func (p *Pool) FetchAsync(ctx context.Context, id WorkID) <-chan FetchResult {
	out := make(chan FetchResult, 1)
	go func() {
		res, err := p.FetchWait(ctx, id)
		out <- FetchResult{Result: res, Err: err}
	}()
	return out
}

// FetchMany waits for the listed works and returns their results in order.
func (p *Pool) FetchMany(ctx context.Context, ids []WorkID) ([]ExecuteResult, error) {
	out := make([]ExecuteResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			res, err := p.FetchWait(gctx, id)
			out[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveResult forgets the stored result and the outcome of a final work.
func (p *Pool) RemoveResult(id WorkID) error {
	if _, ok := p.liveItem(id); ok {
		return gferrors.ErrWorkPending
	}
	p.outcomes.Delete(id)
	p.asyncIndex.Delete(id)
	p.groups.forget(id)
	if err := p.results.Delete(id); err != nil {
		return gferrors.NewOperationError(module, "RemoveResult", err).WithContext(id.String())
	}
	return nil
}

// ClearResults forgets every stored result and final outcome. Dependents
// registered afterwards treat cleared IDs as unknown.
func (p *Pool) ClearResults() error {
	p.outcomes.Range(func(k, _ any) bool {
		id := k.(WorkID)
		p.outcomes.Delete(id)
		p.asyncIndex.Delete(id)
		p.groups.forget(id)
		return true
	})
	if err := p.results.Clear(); err != nil {
		return gferrors.NewOperationError(module, "ClearResults", err)
	}
	return nil
}
