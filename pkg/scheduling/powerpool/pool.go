package powerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnykmshr/powerpool/internal/atomicflag"
	"github.com/vnykmshr/powerpool/pkg/collections/queue"
	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
	"github.com/vnykmshr/powerpool/pkg/scheduling/dependency"
)

type poolState int32

const (
	poolNotRunning poolState = iota
	poolRunning
	poolIdleChecked
)

func (s poolState) String() string {
	switch s {
	case poolNotRunning:
		return "not_running"
	case poolRunning:
		return "running"
	case poolIdleChecked:
		return "idle_checked"
	default:
		return "unknown"
	}
}

type creatorState int32

const (
	creatorFree creatorState = iota
	creatorBusy
)

// Pool schedules works on a dynamic set of workers.
//
// A pool is NotRunning until work is admitted and returns to NotRunning
// after every admitted work finished; each such busy period raises one
// EventPoolStarted and one EventPoolIdled.
type Pool struct {
	cfg  Config
	name string
	log  zerolog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	// Workers. workers is a copy-on-write snapshot of the alive set.
	workers   atomic.Pointer[[]*worker]
	idleQueue *queue.Queue[*worker]
	creating  atomicflag.Flag[creatorState]
	rotor     atomic.Uint64
	wg        sync.WaitGroup

	alive       atomic.Int64
	idle        atomic.Int64
	running     atomic.Int64
	longRunning atomic.Int64
	waiting     atomic.Int64
	async       atomic.Int64

	state     atomicflag.Flag[poolState]
	startedAt atomic.Int64
	idleCh    atomic.Pointer[chan struct{}]
	poolTimer atomic.Pointer[time.Timer]
	stopping  atomic.Bool
	heldBack  *queue.Queue[*workItem]
	pauseCh   atomic.Pointer[chan struct{}]
	disposed  atomic.Bool

	nextID     atomic.Int64
	works      sync.Map // WorkID -> *workItem, until final
	outcomes   sync.Map // WorkID -> Status, once final
	asyncIndex sync.Map // WorkID -> *workItem, async bases
	results    ResultStore
	deps       *dependency.Controller[WorkID]
	groups     *groupTable
	events     eventBus
	metrics    atomic.Pointer[poolMetrics]
}

// New creates a pool with DefaultConfig and the given name.
func New(name string) *Pool {
	cfg := DefaultConfig()
	cfg.Name = name
	p, err := NewWithConfig(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// NewWithConfig creates a pool. Zero MaxThreads defaults to
// runtime.GOMAXPROCS(0) and a zero DefaultPlacement to
// PreferIdleThenLeastLoaded.
func NewWithConfig(cfg Config) (*Pool, error) {
	if cfg.MaxThreads == 0 {
		cfg.MaxThreads = runtime.GOMAXPROCS(0)
	}
	if cfg.DefaultPlacement == PlacementDefault {
		cfg.DefaultPlacement = PreferIdleThenLeastLoaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("pool", cfg.Name).Logger()
	}

	p := &Pool{
		cfg:       cfg,
		name:      cfg.Name,
		log:       log,
		idleQueue: queue.New[*worker](),
		heldBack:  queue.New[*workItem](),
		results:   cfg.ResultStore,
		groups:    newGroupTable(),
	}
	if p.results == nil {
		p.results = NewMemoryStore()
	}
	p.baseCtx, p.baseCancel = context.WithCancel(context.Background())
	idle := make(chan struct{})
	p.idleCh.Store(&idle)
	p.workers.Store(&[]*worker{})
	p.deps = dependency.New(dependency.Config[WorkID]{
		Lookup:    p.lookupOutcome,
		OnRelease: p.releaseDependent,
		OnFail:    p.failDependent,
		Format:    WorkID.String,
	})

	if cfg.Metrics.Enabled {
		if err := p.EnableMetrics(cfg.Metrics); err != nil {
			return nil, err
		}
	}

	for i := 0; i < cfg.MinThreads; i++ {
		w := p.startWorker(false)
		w.canGetWork.Set(getWorkAllowed)
		w.wake()
	}
	p.log.Debug().Int("max_threads", cfg.MaxThreads).Int("min_threads", cfg.MinThreads).Msg("pool created")
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	State       string
	Alive       int
	Idle        int
	Running     int
	LongRunning int
	Waiting     int
	Async       int
	Parked      int
}

// Stats returns the current counters. Values are read independently and
// may be momentarily inconsistent with each other.
func (p *Pool) Stats() Stats {
	return Stats{
		State:       p.state.Get().String(),
		Alive:       int(p.alive.Load()),
		Idle:        int(p.idle.Load()),
		Running:     int(p.running.Load()),
		LongRunning: int(p.longRunning.Load()),
		Waiting:     int(p.waiting.Load()),
		Async:       int(p.async.Load()),
		Parked:      p.deps.Len(),
	}
}

// IsRunning reports whether the pool is in a busy period.
func (p *Pool) IsRunning() bool {
	return !p.state.Is(poolNotRunning)
}

func (p *Pool) ensureRunning() {
	for {
		switch p.state.Get() {
		case poolRunning:
			return
		case poolNotRunning:
			if p.state.CompareAndSet(poolNotRunning, poolRunning) {
				p.onStart()
				return
			}
		default:
			runtime.Gosched()
		}
	}
}

func (p *Pool) onStart() {
	p.startedAt.Store(time.Now().UnixNano())
	if t := p.cfg.PoolTimeout; t != nil {
		timer := time.AfterFunc(t.Duration, func() {
			p.log.Info().Dur("timeout", t.Duration).Msg("pool timed out")
			p.emit(Event{Kind: EventPoolTimedOut})
			p.Stop(t.ForceStop)
		})
		if old := p.poolTimer.Swap(timer); old != nil {
			old.Stop()
		}
	}
	p.log.Info().Msg("pool started")
	p.emit(Event{Kind: EventPoolStarted})
}

func (p *Pool) quiescent() bool {
	return p.waiting.Load() == 0 && p.running.Load() == 0 && p.async.Load() == 0
}

// checkIdle ends the busy period when nothing is waiting, running or
// pending asynchronously. The IdleChecked state makes the transition
// exclusive and lets submitters wait it out.
func (p *Pool) checkIdle() {
	if !p.quiescent() {
		return
	}
	if !p.state.CompareAndSet(poolRunning, poolIdleChecked) {
		return
	}
	if !p.quiescent() {
		p.state.Set(poolRunning)
		return
	}

	if t := p.poolTimer.Swap(nil); t != nil {
		t.Stop()
	}
	busy := time.Duration(time.Now().UnixNano() - p.startedAt.Load())
	p.stopping.Store(false)
	next := make(chan struct{})
	prev := p.idleCh.Swap(&next)
	p.state.Set(poolNotRunning)

	p.log.Info().Dur("busy", busy).Msg("pool idled")
	p.observeIdled()
	p.emit(Event{Kind: EventPoolIdled, Duration: busy})
	close(*prev)
	p.releaseHeldBack()
}

// WaitAll blocks until the pool is idle or ctx is done.
func (p *Pool) WaitAll(ctx context.Context) error {
	ch := p.idleCh.Load()
	for p.state.Is(poolIdleChecked) {
		runtime.Gosched()
		ch = p.idleCh.Load()
	}
	if p.state.Is(poolNotRunning) {
		return nil
	}
	select {
	case <-*ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) setRunning(delta int64) {
	cur := p.running.Add(delta)
	p.observeWorkers()
	p.emit(Event{Kind: EventRunningWorkerCountChanged, Previous: int(cur - delta), Current: int(cur)})
}

func (p *Pool) enterIdle(w *worker) {
	p.idle.Add(1)
	p.setRunning(-1)
}

func (p *Pool) leaveIdle(w *worker) {
	w.stopKillTimer()
	p.idle.Add(-1)
	p.setRunning(1)
}

func (p *Pool) workerSnapshot() []*worker {
	return *p.workers.Load()
}

func (p *Pool) addWorker(w *worker) {
	for {
		old := p.workers.Load()
		next := make([]*worker, len(*old), len(*old)+1)
		copy(next, *old)
		next = append(next, w)
		if p.workers.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (p *Pool) removeWorker(w *worker) {
	for {
		old := p.workers.Load()
		next := make([]*worker, 0, len(*old))
		for _, x := range *old {
			if x != w {
				next = append(next, x)
			}
		}
		if p.workers.CompareAndSwap(old, &next) {
			return
		}
	}
}

// startWorker spawns a worker that is Running and claimed for the caller.
func (p *Pool) startWorker(longRunning bool) *worker {
	w := newWorker(p)
	w.state.Set(workerRunning)
	w.canGetWork.Set(getWorkNotAllowed)
	if longRunning {
		w.longRunning.Store(true)
		p.longRunning.Add(1)
	}
	p.alive.Add(1)
	p.wg.Add(1)

	ready := make(chan struct{})
	go w.run(ready)
	<-ready

	p.addWorker(w)
	p.setRunning(1)
	p.log.Debug().Int("worker", w.id).Bool("long_running", longRunning).Msg("worker created")
	return w
}

// retireWorker disposes a worker that is not idle: its pending works are
// placed elsewhere. It reports false when the worker was already disposed.
func (p *Pool) retireWorker(w *worker) bool {
	for !w.canGetWork.CompareAndSet(getWorkAllowed, getWorkDisabled) {
		if w.canGetWork.Is(getWorkDisabled) {
			return false
		}
		runtime.Gosched()
	}
	switch w.state.Swap(workerToBeDisposed) {
	case workerRunning:
		p.setRunning(-1)
	case workerIdle:
		p.idle.Add(-1)
	case workerToBeDisposed:
		return false
	}
	if w.longRunning.CompareAndSwap(true, false) {
		p.longRunning.Add(-1)
	}
	p.alive.Add(-1)
	p.log.Debug().Int("worker", w.id).Msg("worker retired")
	p.dropWorker(w)
	return true
}

func (p *Pool) dropWorker(w *worker) {
	p.removeWorker(w)
	w.stopKillTimer()
	w.closeQuit()
	p.observeWorkers()
	p.requeuePending(w)
}

func (p *Pool) requeuePending(w *worker) {
	for {
		item, ok := w.waiting.Steal()
		if !ok {
			return
		}
		if !item.claim.Is(claimCancelable) {
			continue
		}
		if err := p.dispatch(item, nil, false); err != nil {
			p.cancelItem(item)
		}
	}
}

// Dispose stops the pool for good. Queued works are canceled, running
// works are asked to stop and background works are force stopped. It
// waits for worker goroutines until ctx is done.
func (p *Pool) Dispose(ctx context.Context) error {
	if !p.disposed.CompareAndSwap(false, true) {
		return nil
	}
	p.log.Info().Msg("disposing pool")

	p.works.Range(func(_, v any) bool {
		item := v.(*workItem)
		if !p.cancelItem(item) {
			p.stopItem(item, item.opt.IsBackground)
		}
		return true
	})
	p.Resume()
	for _, w := range p.workerSnapshot() {
		w.canGetWork.Set(getWorkDisabled)
		w.closeQuit()
	}
	if t := p.poolTimer.Swap(nil); t != nil {
		t.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	defer p.baseCancel()
	defer p.DisableMetrics()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return gferrors.NewOperationError(module, "Dispose", ctx.Err()).
			WithContext("workers still running")
	}
}
