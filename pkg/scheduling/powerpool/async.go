package powerpool

import (
	"context"
	"errors"
	"time"

	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
)

// ErrNotInWork is returned by Continue outside a running work.
var ErrNotInWork = errors.New("not called from a running work")

// Continue queues fn as a continuation of the work running with ctx. The
// running work (or the base it continues) becomes asynchronous: its final
// result is published only after every continuation finished, and the
// pool is not idle before that.
//
// Continuations inherit the group and priority of the base. Without an
// explicit placement they prefer the submitting worker.
func (p *Pool) Continue(ctx context.Context, fn WorkFunc, opts ...WorkOption) (WorkID, error) {
	s := scopeFrom(ctx)
	if s == nil || s.pool != p {
		return WorkID{}, gferrors.NewOperationError(module, "Continue", ErrNotInWork)
	}
	if fn == nil {
		return WorkID{}, gferrors.NewValidationError(module, "fn", nil, "cannot be nil")
	}
	base := s.item
	if base.base != nil {
		base = base.base
	}

	opt := WorkOption{
		Group:    base.opt.Group,
		Priority: base.priority,
	}
	if len(opts) > 0 {
		opt = opts[len(opts)-1]
	}
	if opt.Placement == PlacementDefault {
		opt.Placement = PreferLocalWorker
	}
	child, err := p.newItem(fn, opt)
	if err != nil {
		return WorkID{}, err
	}
	child.base = base

	if base.isAsync.CompareAndSwap(false, true) {
		p.async.Add(1)
		p.asyncIndex.Store(base.id, base)
	}
	base.outstanding.Add(1)
	base.addAsyncChild(child.id)

	// The base keeps the pool busy, so holding its continuation back until
	// idle would never release it. A stopping pool cancels it instead.
	if p.stopping.Load() {
		p.waiting.Add(1)
		if err := p.register(child); err != nil {
			p.waiting.Add(-1)
			base.outstanding.Add(-1)
			p.settleAsync(base)
			return WorkID{}, err
		}
		p.cancelItem(child)
		return child.id, nil
	}
	if err := p.admitNow(child, s.worker); err != nil {
		base.outstanding.Add(-1)
		p.settleAsync(base)
		return WorkID{}, err
	}
	return child.id, nil
}

// AsyncChildren returns the continuations queued under an async base, in
// submission order.
func (p *Pool) AsyncChildren(id WorkID) []WorkID {
	if item, ok := p.liveItem(id); ok {
		return item.asyncChildIDs()
	}
	if v, ok := p.asyncIndex.Load(id); ok {
		return v.(*workItem).asyncChildIDs()
	}
	return nil
}

func (p *Pool) continuationDone(child *workItem, res ExecuteResult) {
	base := child.base
	if res.Status != Succeed {
		r := res
		base.firstBad.CompareAndSwap(nil, &r)
	}
	base.outstanding.Add(-1)
	p.settleAsync(base)
}

// settleAsync publishes the result of an async base once its body and all
// continuations are final. The base takes the status and error of its
// body, or of the first continuation that did not succeed.
func (p *Pool) settleAsync(base *workItem) {
	if !base.bodyDone.Load() || base.outstanding.Load() != 0 {
		return
	}
	if !base.settled.CompareAndSwap(false, true) {
		return
	}
	res := *base.bodyResult.Load()
	if bad := base.firstBad.Load(); bad != nil && res.Status == Succeed {
		res.Status = bad.Status
		res.Err = bad.Err
	}
	res.EndTime = time.Now()
	p.finish(base, res)
	p.async.Add(-1)
	p.checkIdle()
}
