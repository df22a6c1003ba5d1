package powerpool

import (
	"context"
	"fmt"
	"time"

	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
	"github.com/vnykmshr/powerpool/pkg/scheduling/dependency"
)

// Submit adds a work to the pool. At most one WorkOption is used; later
// ones replace earlier ones.
func (p *Pool) Submit(fn WorkFunc, opts ...WorkOption) (WorkID, error) {
	return p.SubmitContext(context.Background(), fn, opts...)
}

// SubmitAction adds a work without a result value.
func (p *Pool) SubmitAction(fn func(ctx context.Context) error, opts ...WorkOption) (WorkID, error) {
	if fn == nil {
		return WorkID{}, gferrors.NewValidationError(module, "fn", nil, "cannot be nil")
	}
	return p.SubmitContext(context.Background(), Action(fn), opts...)
}

// SubmitContext adds a work. When ctx belongs to a work running in this
// pool, the submitting worker is the local worker for placement.
//
// The returned ID is valid only when the error is nil.
func (p *Pool) SubmitContext(ctx context.Context, fn WorkFunc, opts ...WorkOption) (WorkID, error) {
	if fn == nil {
		return WorkID{}, gferrors.NewValidationError(module, "fn", nil, "cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return WorkID{}, fmt.Errorf("cannot submit work: context canceled: %w", err)
	}

	var opt WorkOption
	if len(opts) > 0 {
		opt = opts[len(opts)-1]
	}
	item, err := p.newItem(fn, opt)
	if err != nil {
		return WorkID{}, err
	}

	var local *worker
	if s := scopeFrom(ctx); s != nil && s.pool == p {
		local = s.worker
	}
	if err := p.admit(item, local); err != nil {
		return WorkID{}, err
	}
	return item.id, nil
}

func (p *Pool) newItem(fn WorkFunc, opt WorkOption) (*workItem, error) {
	if p.disposed.Load() {
		return nil, gferrors.NewOperationError(module, "Submit", gferrors.ErrClosed)
	}
	if err := opt.validate(); err != nil {
		return nil, err
	}

	item := &workItem{
		fn:             fn,
		opt:            opt,
		timeout:        opt.Timeout,
		retry:          opt.Retry,
		placement:      opt.Placement,
		priority:       opt.Priority,
		threadPriority: opt.ThreadPriority,
		queueTime:      time.Now(),
		done:           make(chan struct{}),
	}
	if item.timeout == nil {
		item.timeout = p.cfg.DefaultWorkTimeout
	}
	if item.retry == nil {
		item.retry = p.cfg.DefaultRetry
	}
	if item.placement == PlacementDefault {
		item.placement = p.cfg.DefaultPlacement
	}
	if item.threadPriority == ThreadPriorityNormal {
		item.threadPriority = p.cfg.ThreadPriority
	}

	switch {
	case opt.CustomID != "":
		item.id = CustomID(opt.CustomID)
	case p.cfg.IDType == GUIDs:
		item.id = NewGUID()
	default:
		item.id = NumericID(p.nextID.Add(1))
	}
	return item, nil
}

// admit counts the work as waiting and publishes it. Works submitted
// while the pool is stopping are held back until the pool is idle.
func (p *Pool) admit(item *workItem, local *worker) error {
	if p.stopping.Load() {
		item.heldBack.Store(true)
		if err := p.register(item); err != nil {
			return err
		}
		p.heldBack.Enqueue(item)
		if !p.stopping.Load() {
			p.releaseHeldBack()
		}
		return nil
	}
	return p.admitNow(item, local)
}

// admitNow admits the work even while the pool is stopping.
func (p *Pool) admitNow(item *workItem, local *worker) error {
	p.waiting.Add(1)
	p.ensureRunning()
	if err := p.publish(item); err != nil {
		p.waiting.Add(-1)
		p.checkIdle()
		return err
	}
	p.observeSubmitted()
	return p.enqueue(item, local, true)
}

// publish registers a work that is about to be enqueued. A work with
// prerequisites is parked before it becomes visible, so inline waiters do
// not run it ahead of them.
func (p *Pool) publish(item *workItem) error {
	if len(item.opt.Dependents) > 0 {
		item.parked.Store(true)
	}
	if err := p.register(item); err != nil {
		item.parked.Store(false)
		return err
	}
	return nil
}

func (p *Pool) register(item *workItem) error {
	if item.id.Kind() == IDCustom {
		if _, done := p.outcomes.Load(item.id); done {
			return fmt.Errorf("work id %q: %w", item.id, gferrors.ErrDuplicateWorkID)
		}
	}
	if _, loaded := p.works.LoadOrStore(item.id, item); loaded {
		return fmt.Errorf("work id %q: %w", item.id, gferrors.ErrDuplicateWorkID)
	}
	if g := item.opt.Group; g != "" {
		p.groups.addMember(g, item.id)
	}
	return nil
}

// unregister reverts register for a work that was never admitted.
func (p *Pool) unregister(item *workItem) {
	p.works.Delete(item.id)
	if g := item.opt.Group; g != "" {
		p.groups.removeMember(g, item.id)
	}
}

// enqueue parks the work on its prerequisites or places it.
func (p *Pool) enqueue(item *workItem, local *worker, fresh bool) error {
	if len(item.opt.Dependents) > 0 {
		item.parked.Store(true)
		status, err := p.deps.Register(item.id, item.opt.Dependents)
		if err != nil {
			item.parked.Store(false)
			item.claim.Set(claimCanceled)
			p.unregister(item)
			p.waiting.Add(-1)
			p.checkIdle()
			return err
		}
		switch status {
		case dependency.Normal:
			if item.claim.Is(claimCanceled) && p.deps.Withdraw(item.id) {
				p.deps.Complete(item.id, false)
			}
			p.log.Debug().Stringer("work", item.id).Int("prerequisites", len(item.opt.Dependents)).Msg("work parked")
			return nil
		case dependency.Failed:
			p.failDependent(item.id, p.failedPrerequisite(item))
			return nil
		}
		item.parked.Store(false)
	}
	return p.dispatch(item, local, fresh)
}

func (p *Pool) releaseHeldBack() {
	for {
		item, ok := p.heldBack.TryDequeue()
		if !ok {
			return
		}
		if len(item.opt.Dependents) > 0 {
			item.parked.Store(true)
		}
		if !item.heldBack.CompareAndSwap(true, false) {
			continue
		}
		p.waiting.Add(1)
		p.ensureRunning()
		if err := p.enqueue(item, nil, false); err != nil {
			p.log.Warn().Err(err).Stringer("work", item.id).Msg("requeueing held back work")
		}
	}
}

func (p *Pool) lookupOutcome(id WorkID) dependency.Outcome {
	v, ok := p.outcomes.Load(id)
	if !ok {
		return dependency.Unresolved
	}
	if v.(Status) == Succeed {
		return dependency.Succeeded
	}
	return dependency.Unsucceeded
}

func (p *Pool) failedPrerequisite(item *workItem) WorkID {
	for _, d := range item.opt.Dependents {
		if st, ok := p.outcomes.Load(d); ok && st.(Status) != Succeed {
			return d
		}
	}
	return item.opt.Dependents[0]
}

func (p *Pool) releaseDependent(id WorkID) {
	v, ok := p.works.Load(id)
	if !ok {
		return
	}
	item := v.(*workItem)
	item.parked.Store(false)
	if !item.claim.Is(claimCancelable) {
		return
	}
	p.log.Debug().Stringer("work", id).Msg("work released")
	if err := p.dispatch(item, nil, false); err != nil {
		p.cancelItem(item)
	}
}

func (p *Pool) failDependent(id, cause WorkID) {
	v, ok := p.works.Load(id)
	if !ok {
		return
	}
	item := v.(*workItem)
	item.parked.Store(false)
	if !item.claim.CompareAndSet(claimCancelable, claimCanceled) {
		return
	}
	if !item.heldBack.CompareAndSwap(true, false) {
		p.waiting.Add(-1)
	}
	p.log.Debug().Stringer("work", id).Stringer("prerequisite", cause).Msg("work failed by dependency")
	p.finish(item, p.makeResult(item, nil, &DependencyError{ID: id, Prerequisite: cause}, Failed))
	p.checkIdle()
}
