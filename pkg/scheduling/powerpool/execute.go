package powerpool

import (
	"context"
	"runtime/debug"
	"time"
)

type runOutcome int

const (
	outcomeDone runOutcome = iota
	outcomeRequeue
	outcomeAbandoned
)

// claimForExecution takes a queued work for the caller.
func (p *Pool) claimForExecution(item *workItem) bool {
	if !item.claim.CompareAndSet(claimCancelable, claimExecuting) {
		return false
	}
	p.waiting.Add(-1)
	return true
}

// runItem executes the attempts of a claimed work. w is the worker that
// owns the execution; it is nil for inline runs, which cannot be requeued
// or abandoned. host is the worker whose goroutine runs the work, if any.
func (p *Pool) runItem(item *workItem, w, host *worker) (ExecuteResult, runOutcome) {
	workerID := 0
	if host != nil {
		workerID = host.id
	}
	p.markStart(item, workerID)

	for {
		ctx, cancel := p.attemptContext(item, host)
		value, status, err := p.attempt(ctx, item, workerID)
		item.cancel.Store(nil)
		cancel(nil)

		if w != nil && !w.hold() {
			return ExecuteResult{}, outcomeAbandoned
		}
		if status == Failed && item.canRetry() {
			item.retryCount.Add(1)
			p.log.Debug().Stringer("work", item.id).Int32("retry", item.retryCount.Load()).Err(err).Msg("retrying work")
			if w != nil && item.retry.Behavior == RequeueRetry {
				return ExecuteResult{}, outcomeRequeue
			}
			if w != nil {
				w.release()
			}
			continue
		}
		return p.makeResult(item, value, err, status), outcomeDone
	}
}

func (p *Pool) attemptContext(item *workItem, w *worker) (context.Context, context.CancelCauseFunc) {
	ctx := context.WithValue(p.baseCtx, scopeKey{}, &execScope{pool: p, item: item, worker: w})
	ctx, cancel := context.WithCancelCause(ctx)
	item.cancel.Store(&cancel)
	if item.stopReq.Load() {
		cancel(ErrStopped)
	}
	return ctx, cancel
}

func (p *Pool) attempt(ctx context.Context, item *workItem, workerID int) (any, Status, error) {
	if item.abandoned.Load() {
		return nil, ForceStopped, ErrForceStopped
	}
	p.waitWorkPause(ctx, item)
	if item.stopReq.Load() || (item.base != nil && item.base.opt.AutoCheckStopOnAsyncTask && item.base.stopReq.Load()) {
		return nil, Stopped, ErrStopped
	}

	p.emit(Event{Kind: EventWorkStarted, ID: item.id, WorkerID: workerID})
	p.observeStarted()
	if t := p.armWorkTimeout(item); t != nil {
		defer t.Stop()
	}
	return p.invoke(ctx, item)
}

// invoke is the single boundary between the pool and user code.
func (p *Pool) invoke(ctx context.Context, item *workItem) (value any, status Status, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch r.(type) {
		case stopSignal:
			value, status, err = nil, Stopped, ErrStopped
		case interruptSignal:
			value, status, err = nil, ForceStopped, ErrForceStopped
		default:
			value, status, err = nil, Failed, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	value, err = item.fn(ctx)
	switch {
	case item.abandoned.Load():
		status = ForceStopped
	case err == nil:
		status = Succeed
	case item.stopRequested():
		status = Stopped
	default:
		status = Failed
	}
	return value, status, err
}

func (p *Pool) waitWorkPause(ctx context.Context, item *workItem) {
	for {
		ch := item.paused.Load()
		if ch == nil {
			return
		}
		select {
		case <-*ch:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) armWorkTimeout(item *workItem) *time.Timer {
	t := item.timeout
	if t == nil {
		return nil
	}
	return time.AfterFunc(t.Duration, func() {
		p.log.Debug().Stringer("work", item.id).Dur("timeout", t.Duration).Bool("force", t.ForceStop).Msg("work timed out")
		p.emit(Event{Kind: EventWorkTimedOut, ID: item.id, WorkerID: int(item.workerID.Load())})
		p.stopItem(item, t.ForceStop)
	})
}

func (p *Pool) markStart(item *workItem, workerID int) {
	item.workerID.Store(int64(workerID))
	now := time.Now()
	if item.startTime.CompareAndSwap(0, now.UnixNano()) {
		p.observeQueued(now.Sub(item.queueTime))
	}
}

func (p *Pool) makeResult(item *workItem, value any, err error, status Status) ExecuteResult {
	res := ExecuteResult{
		ID:        item.id,
		Result:    value,
		Status:    status,
		Err:       err,
		Priority:  item.priority,
		WorkerID:  int(item.workerID.Load()),
		QueueTime: item.queueTime,
		EndTime:   time.Now(),
	}
	if ns := item.startTime.Load(); ns != 0 {
		res.StartTime = time.Unix(0, ns)
	}
	if r := item.retry; r != nil {
		res.Retry = &RetryInfo{
			CurrentRetryCount: int(item.retryCount.Load()),
			MaxRetryCount:     r.MaxRetryCount,
			Behavior:          r.Behavior,
			Policy:            r.Policy,
		}
	}
	return res
}

// requeue places the next attempt of a failed work like a new submission.
// It runs before the worker that ran the attempt leaves Running.
func (p *Pool) requeue(item *workItem) {
	p.waiting.Add(1)
	item.claim.Set(claimCancelable)
	if err := p.dispatch(item, nil, false); err != nil {
		p.cancelItem(item)
	}
}

// runInline executes a claimed work on the calling goroutine. host is the
// worker running the caller, or nil.
func (p *Pool) runInline(item *workItem, host *worker) {
	res, _ := p.runItem(item, nil, host)
	p.completeExecution(item, res)
}

// completeExecution finishes a work whose body returned. Async bases wait
// for their continuations.
func (p *Pool) completeExecution(item *workItem, res ExecuteResult) {
	if item.isAsync.Load() {
		item.bodyResult.Store(&res)
		item.bodyDone.Store(true)
		p.settleAsync(item)
		return
	}
	p.finish(item, res)
}

// publishOutcome records the status seen by later dependents and the
// stored result. A ForceStopped overwrite republishes both; dependents
// already released by the earlier result stay released.
func (p *Pool) publishOutcome(item *workItem, res ExecuteResult) {
	p.outcomes.Store(item.id, res.Status)
	if item.opt.ShouldStoreResult {
		if err := p.results.Put(res); err != nil {
			p.log.Warn().Err(err).Stringer("work", item.id).Msg("storing result")
		}
	}
}

// finish publishes the final result of a work: store, events, callbacks,
// continuation accounting and dependents. Counters are the caller's job.
func (p *Pool) finish(item *workItem, res ExecuteResult) {
	if !item.setResult(res) {
		if res.Status == ForceStopped {
			p.publishOutcome(item, res)
		}
		return
	}
	p.publishOutcome(item, res)
	p.works.Delete(item.id)
	if item.opt.Group != "" && !item.opt.ShouldStoreResult {
		p.groups.removeMember(item.opt.Group, item.id)
	}
	close(item.done)
	p.observeCompleted(res)

	ev := Event{ID: item.id, WorkerID: res.WorkerID, Result: &res}
	switch res.Status {
	case Succeed, Failed:
		ev.Kind = EventWorkEnded
	case Stopped, ForceStopped:
		ev.Kind = EventWorkStopped
	default:
		ev.Kind = EventWorkCanceled
	}
	p.emit(ev)

	if cb := item.opt.Callback; cb != nil {
		p.safeInvoke("callback", item.id, false, func() { cb(res) })
	}
	if cb := p.cfg.DefaultCallback; cb != nil {
		p.safeInvoke("callback", item.id, false, func() { cb(res) })
	}
	if item.base != nil {
		p.continuationDone(item, res)
	}
	p.deps.Complete(item.id, res.Status == Succeed)
}
