package powerpool

import (
	"fmt"
	"math"
	"math/bits"
	"runtime"

	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
)

type createResult int

const (
	createOK createResult = iota
	createContended
	createAtCapacity
)

// dispatch places a counted work on a worker. Only fresh submissions are
// subject to the reject policy; retries, released dependents and works
// moved off disposed workers always find a worker.
func (p *Pool) dispatch(item *workItem, local *worker, fresh bool) error {
	for {
		if p.disposed.Load() {
			return gferrors.NewOperationError(module, "dispatch", gferrors.ErrClosed)
		}
		w, saturated := p.selectWorker(item, local, fresh)
		if w != nil {
			w.setWork(item)
			return nil
		}
		if saturated {
			return p.reject(item)
		}
		runtime.Gosched()
	}
}

// selectWorker returns a worker claimed for item, or nil when the caller
// should retry. saturated is set when the reject policy applies.
func (p *Pool) selectWorker(item *workItem, local *worker, fresh bool) (w *worker, saturated bool) {
	if local != nil && local.pool != p {
		local = nil
	}

	if item.opt.LongRunning {
		if w := p.claimIdle(); w != nil {
			return w, false
		}
		w, _ := p.createWorker(true)
		return w, false
	}

	if item.placement == PreferLocalWorker && local != nil && local.claim() {
		return local, false
	}
	if w := p.claimIdle(); w != nil {
		return w, false
	}
	switch w, res := p.createWorker(false); res {
	case createOK:
		return w, false
	case createContended:
		return nil, false
	}
	if item.placement == PreferIdleThenLocal && local != nil && local.claim() {
		return local, false
	}

	w = p.claimLeastLoaded()
	if w == nil {
		return nil, false
	}
	if r := p.cfg.Reject; fresh && r != nil && w.waiting.Len() >= r.ThreadQueueLimit {
		w.unclaim()
		return nil, true
	}
	return w, false
}

// claimIdle pops the idle queue until it claims a worker that is still
// idle. Entries are hints: stale ones are dropped.
func (p *Pool) claimIdle() *worker {
	for {
		w, ok := p.idleQueue.TryDequeue()
		if !ok {
			return nil
		}
		if w.state.Is(workerIdle) && w.claim() {
			return w
		}
	}
}

// createWorker spawns a claimed worker. One creator runs at a time;
// long-running works are exempt from MaxThreads.
func (p *Pool) createWorker(longRunning bool) (*worker, createResult) {
	if !p.creating.CompareAndSet(creatorFree, creatorBusy) {
		return nil, createContended
	}
	defer p.creating.Set(creatorFree)

	if !longRunning && p.alive.Load()-p.longRunning.Load() >= int64(p.cfg.MaxThreads) {
		return nil, createAtCapacity
	}
	if p.disposed.Load() {
		return nil, createContended
	}
	return p.startWorker(longRunning), createOK
}

// claimLeastLoaded scans a bounded window of workers from a rotating
// start and claims the one with the fewest waiting works.
func (p *Pool) claimLeastLoaded() *worker {
	ws := p.workerSnapshot()
	n := len(ws)
	if n == 0 {
		return nil
	}
	budget := n
	if n > 8 {
		budget = 2 * bits.Len(uint(p.cfg.MaxThreads))
		if budget > n {
			budget = n
		}
	}

	start := int(p.rotor.Add(1) % uint64(n))
	var best *worker
	bestLen := math.MaxInt
	for i := 0; i < budget; i++ {
		w := ws[(start+i)%n]
		if w.longRunning.Load() || w.state.Is(workerToBeDisposed) {
			continue
		}
		if l := w.waiting.Len(); l < bestLen {
			best, bestLen = w, l
			if l == 0 {
				break
			}
		}
	}
	if best == nil || !best.claim() {
		return nil
	}
	return best
}

// busiestWorker returns the alive worker other than exclude holding the
// most waiting works, or nil when every queue is empty.
func (p *Pool) busiestWorker(exclude *worker) *worker {
	var best *worker
	bestLen := 0
	for _, w := range p.workerSnapshot() {
		if w == exclude || w.closed() {
			continue
		}
		if l := w.waiting.Len(); l > bestLen {
			best, bestLen = w, l
		}
	}
	return best
}

// reject applies the configured policy to a fresh work that met a
// saturated pool.
func (p *Pool) reject(item *workItem) error {
	policy := p.cfg.Reject.Policy
	p.log.Info().Stringer("work", item.id).Stringer("policy", policy).Msg("pool saturated, rejecting work")
	p.observeRejected(policy)
	p.emit(Event{Kind: EventWorkRejected, ID: item.id, Policy: policy})

	switch policy {
	case CallerRunsPolicy:
		if item.claim.CompareAndSet(claimCancelable, claimExecuting) {
			p.runInline(item, nil)
			p.waiting.Add(-1)
			p.checkIdle()
		}
		return nil

	case DiscardPolicy:
		p.discard(item)
		return nil

	case DiscardOldestPolicy:
		if victim := p.busiestWorker(nil); victim != nil {
			for {
				old, ok := victim.waiting.Discard()
				if !ok || p.discard(old) {
					break
				}
			}
			if victim.claim() {
				victim.setWork(item)
				return nil
			}
		}
		return p.dispatch(item, nil, false)

	default:
		item.claim.Set(claimCanceled)
		p.unregister(item)
		p.waiting.Add(-1)
		p.checkIdle()
		return fmt.Errorf("work %s: %w", item.id, gferrors.ErrWorkRejected)
	}
}

// discard drops a queued work with status Canceled.
func (p *Pool) discard(item *workItem) bool {
	if !item.claim.CompareAndSet(claimCancelable, claimCanceled) {
		return false
	}
	p.waiting.Add(-1)
	res := p.makeResult(item, nil, ErrDiscarded, Canceled)
	p.observeDiscarded()
	p.emit(Event{Kind: EventWorkDiscarded, ID: item.id, Result: &res})
	p.finish(item, res)
	p.checkIdle()
	return true
}
