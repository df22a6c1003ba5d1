package powerpool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/powerpool/internal/atomicflag"
	"github.com/vnykmshr/powerpool/internal/osthread"
	"github.com/vnykmshr/powerpool/pkg/collections/stealable"
)

type workerState int32

const (
	workerIdle workerState = iota
	workerRunning
	workerToBeDisposed
)

type getWorkState int32

const (
	getWorkAllowed getWorkState = iota
	getWorkNotAllowed
	getWorkDisabled
)

type stealState int32

const (
	stealAllowed stealState = iota
	stealNotAllowed
)

type heldState int32

const (
	heldFree heldState = iota
	heldByOwner
	heldByStopper
)

// worker runs works on one goroutine locked to one OS thread.
//
// canGetWork is the placement claim: a submitter moves it from Allowed to
// NotAllowed before pushing and back afterwards, and disposal moves it to
// Disabled so that nothing new lands. held arbitrates the end of a work
// between the worker and a force stopper.
type worker struct {
	pool    *Pool
	id      int
	waiting stealable.Collection[*workItem]

	state      atomicflag.Flag[workerState]
	canGetWork atomicflag.Flag[getWorkState]
	canSteal   atomicflag.Flag[stealState]
	held       atomicflag.Flag[heldState]

	current     atomic.Pointer[workItem]
	longRunning atomic.Bool
	interrupted atomic.Bool
	released    atomic.Bool
	killTimer   atomic.Pointer[time.Timer]

	signal   chan struct{}
	quit     chan struct{}
	quitOnce sync.Once

	// Owned by the worker goroutine.
	spin     spinTuner
	priority ThreadPriority
}

func newWorker(p *Pool) *worker {
	var waiting stealable.Collection[*workItem]
	if p.cfg.QueueType == LIFO {
		waiting = stealable.NewLIFO[*workItem]()
	} else {
		waiting = stealable.NewFIFO[*workItem]()
	}
	return &worker{
		pool:    p,
		waiting: waiting,
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		spin:    newSpinTuner(),
	}
}

func (w *worker) run(ready chan<- struct{}) {
	// Never unlocked: the thread exits with the goroutine, together with
	// any priority change made on it.
	runtime.LockOSThread()
	w.id = osthread.ID()
	w.priority = ThreadPriorityNormal
	close(ready)
	defer w.releaseWaitGroup()

	w.applyPriority(w.pool.cfg.ThreadPriority)
	for {
		select {
		case <-w.signal:
		case <-w.quit:
			return
		}
		if !w.drain() {
			return
		}
	}
}

func (w *worker) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *worker) closeQuit() {
	w.quitOnce.Do(func() { close(w.quit) })
}

func (w *worker) closed() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}

func (w *worker) releaseWaitGroup() {
	if w.released.CompareAndSwap(false, true) {
		w.pool.wg.Done()
	}
}

// drain runs works until none is left. It returns false when the worker
// goroutine must exit.
func (w *worker) drain() bool {
	for {
		if w.closed() || w.interrupted.Load() {
			return false
		}
		if w.state.Is(workerIdle) && !w.wakeFromIdle() {
			return true
		}
		if !w.waitWhilePaused() {
			return false
		}
		item := w.next()
		if item == nil {
			if w.goIdle() {
				return true
			}
			continue
		}
		if !w.execute(item) {
			return false
		}
	}
}

func (w *worker) wakeFromIdle() bool {
	if w.waiting.Len() == 0 {
		return false
	}
	if w.state.CompareAndSet(workerIdle, workerRunning) {
		w.pool.leaveIdle(w)
	}
	return w.state.Is(workerRunning)
}

func (w *worker) waitWhilePaused() bool {
	for {
		ch := w.pool.pauseCh.Load()
		if ch == nil || w.waiting.Len() == 0 {
			return true
		}
		select {
		case <-*ch:
		case <-w.quit:
			return false
		}
	}
}

// setWork queues item on a worker the caller has claimed through canGetWork.
func (w *worker) setWork(item *workItem) {
	w.waiting.Set(item, item.priority)
	if w.state.CompareAndSet(workerIdle, workerRunning) {
		w.pool.leaveIdle(w)
	}
	w.canGetWork.Set(getWorkAllowed)
	w.wake()
}

func (w *worker) claim() bool {
	return w.canGetWork.CompareAndSet(getWorkAllowed, getWorkNotAllowed)
}

func (w *worker) unclaim() {
	w.canGetWork.CompareAndSet(getWorkNotAllowed, getWorkAllowed)
}

func (w *worker) next() *workItem {
	if item := w.popLocal(); item != nil {
		return item
	}
	if !w.state.Is(workerRunning) || w.pool.pauseCh.Load() != nil {
		return nil
	}

	for i, n := 0, w.spin.iterations(); i < n; i++ {
		runtime.Gosched()
		if w.waiting.Len() == 0 {
			continue
		}
		if item := w.popLocal(); item != nil {
			w.spin.record(true)
			return item
		}
	}
	w.spin.record(false)
	return w.steal()
}

// popLocal returns the next claimed work of this worker, skipping works
// canceled while queued.
func (w *worker) popLocal() *workItem {
	for {
		item, ok := w.waiting.Get()
		if !ok {
			return nil
		}
		if w.pool.claimForExecution(item) {
			return item
		}
	}
}

// steal moves up to half of the busiest worker's queue, lowest priorities
// first, and returns one of the moved works claimed for execution.
func (w *worker) steal() *workItem {
	p := w.pool
	victim := p.busiestWorker(w)
	if victim == nil || !victim.canSteal.CompareAndSet(stealAllowed, stealNotAllowed) {
		return nil
	}
	defer victim.canSteal.Set(stealAllowed)

	batch := victim.waiting.Len() / 2
	if batch < 1 {
		batch = 1
	}
	var first *workItem
	moved := 0
	for i := 0; i < batch; i++ {
		item, ok := victim.waiting.Steal()
		if !ok {
			break
		}
		if !item.claim.Is(claimCancelable) {
			continue
		}
		moved++
		if first == nil && p.claimForExecution(item) {
			first = item
			continue
		}
		w.waiting.Set(item, item.priority)
	}
	if moved > 0 {
		p.observeStolen(moved)
		p.log.Debug().Int("worker", w.id).Int("victim", victim.id).Int("works", moved).Msg("stole works")
	}
	return first
}

// goIdle publishes the worker as idle. It returns false when work arrived
// during the transition and the worker must keep draining.
func (w *worker) goIdle() bool {
	p := w.pool
	if !w.state.CompareAndSet(workerRunning, workerIdle) {
		return true
	}
	p.enterIdle(w)
	p.idleQueue.Enqueue(w)

	if w.waiting.Len() > 0 {
		if w.state.CompareAndSet(workerIdle, workerRunning) {
			p.leaveIdle(w)
		}
		return false
	}
	w.armKillTimer()
	p.checkIdle()
	return true
}

func (w *worker) execute(item *workItem) bool {
	p := w.pool
	if item.opt.LongRunning && w.longRunning.CompareAndSwap(false, true) {
		p.longRunning.Add(1)
	}
	item.worker.Store(w)
	w.current.Store(item)
	w.applyPriority(item.threadPriority)

	res, outcome := p.runItem(item, w, w)
	if outcome == outcomeAbandoned {
		return false
	}

	w.current.Store(nil)
	item.worker.Store(nil)
	w.release()

	if outcome == outcomeRequeue {
		p.requeue(item)
	} else {
		p.completeExecution(item, res)
	}
	return w.afterWork()
}

// hold takes the end of the current work for the worker. It fails when a
// force stopper took it first; the worker is abandoned then.
func (w *worker) hold() bool {
	for !w.held.CompareAndSet(heldFree, heldByOwner) {
		if w.interrupted.Load() {
			return false
		}
		runtime.Gosched()
	}
	if w.interrupted.Load() {
		w.held.Set(heldFree)
		return false
	}
	return true
}

func (w *worker) release() {
	w.held.Set(heldFree)
}

func (w *worker) afterWork() bool {
	p := w.pool
	keep := true
	if base := p.cfg.ThreadPriority; w.priority != base {
		if err := osthread.SetPriority(base); err != nil {
			p.log.Debug().Err(err).Int("worker", w.id).Msg("thread priority not restorable, retiring worker")
			keep = false
		} else {
			w.priority = base
		}
	}
	if w.longRunning.CompareAndSwap(true, false) {
		p.longRunning.Add(-1)
		if p.alive.Load()-p.longRunning.Load() > int64(p.cfg.MaxThreads) {
			keep = false
		}
	}
	if !keep && p.retireWorker(w) {
		return false
	}
	return true
}

func (w *worker) applyPriority(prio ThreadPriority) {
	if prio == w.priority {
		return
	}
	if err := osthread.SetPriority(prio); err != nil {
		w.pool.log.Warn().Err(err).Int("worker", w.id).Int("priority", int(prio)).Msg("setting thread priority")
		return
	}
	w.priority = prio
}

func (w *worker) armKillTimer() {
	ka := w.pool.cfg.KeepAlive
	if ka <= 0 {
		return
	}
	t := time.AfterFunc(ka, w.expire)
	if old := w.killTimer.Swap(t); old != nil {
		old.Stop()
	}
}

func (w *worker) stopKillTimer() {
	if t := w.killTimer.Swap(nil); t != nil {
		t.Stop()
	}
}

// expire disposes an idle worker whose keep-alive ran out, unless that
// would leave fewer than MinThreads workers.
func (w *worker) expire() {
	p := w.pool
	if !w.canGetWork.CompareAndSet(getWorkAllowed, getWorkDisabled) {
		return
	}
	if !w.state.CompareAndSet(workerIdle, workerToBeDisposed) {
		w.canGetWork.Set(getWorkAllowed)
		return
	}
	for {
		n := p.alive.Load()
		if n <= int64(p.cfg.MinThreads) {
			w.state.Set(workerIdle)
			w.canGetWork.Set(getWorkAllowed)
			p.idleQueue.Enqueue(w)
			return
		}
		if p.alive.CompareAndSwap(n, n-1) {
			break
		}
	}
	p.idle.Add(-1)
	p.log.Debug().Int("worker", w.id).Msg("idle worker expired")
	p.dropWorker(w)
}
