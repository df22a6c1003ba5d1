package powerpool

import (
	"runtime/debug"
	"sync/atomic"
	"time"
)

// EventKind identifies a pool lifecycle event.
type EventKind int

const (
	// EventPoolStarted fires when an idle pool admits work.
	EventPoolStarted EventKind = iota

	// EventPoolIdled fires once per busy period, when nothing is waiting,
	// running or pending asynchronously.
	EventPoolIdled

	EventWorkStarted
	EventWorkEnded
	EventWorkStopped
	EventWorkCanceled
	EventWorkTimedOut
	EventPoolTimedOut
	EventRunningWorkerCountChanged
	EventWorkRejected
	EventWorkDiscarded

	// EventErrorOccurred reports panics in handlers and callbacks.
	EventErrorOccurred

	eventKindCount
)

var eventKindNames = [eventKindCount]string{
	EventPoolStarted:               "pool_started",
	EventPoolIdled:                 "pool_idled",
	EventWorkStarted:               "work_started",
	EventWorkEnded:                 "work_ended",
	EventWorkStopped:               "work_stopped",
	EventWorkCanceled:              "work_canceled",
	EventWorkTimedOut:              "work_timed_out",
	EventPoolTimedOut:              "pool_timed_out",
	EventRunningWorkerCountChanged: "running_worker_count_changed",
	EventWorkRejected:              "work_rejected",
	EventWorkDiscarded:             "work_discarded",
	EventErrorOccurred:             "error_occurred",
}

func (k EventKind) String() string {
	if k < 0 || k >= eventKindCount {
		return "unknown"
	}
	return eventKindNames[k]
}

// Event carries the data of one lifecycle event. Fields not meaningful for
// a kind are zero.
type Event struct {
	Kind EventKind
	Pool string
	Time time.Time

	// ID and WorkerID are set on work events.
	ID       WorkID
	WorkerID int

	// Result is set on WorkEnded, WorkStopped, WorkCanceled and WorkDiscarded.
	Result *ExecuteResult

	// Previous and Current are the running worker counts of
	// RunningWorkerCountChanged.
	Previous int
	Current  int

	// Duration is the length of the busy period ended by PoolIdled.
	Duration time.Duration

	// Policy is the rejection policy applied on WorkRejected.
	Policy RejectPolicy

	// Source and Err describe ErrorOccurred.
	Source string
	Err    error
}

// EventHandler receives events. Handlers run on pool goroutines and must
// not block for long.
type EventHandler func(Event)

type subscription struct {
	fn EventHandler
}

type eventBus struct {
	subs [eventKindCount]atomic.Pointer[[]*subscription]
}

func (b *eventBus) subscribe(kind EventKind, fn EventHandler) func() {
	if kind < 0 || kind >= eventKindCount || fn == nil {
		return func() {}
	}
	sub := &subscription{fn: fn}
	slot := &b.subs[kind]
	for {
		old := slot.Load()
		var next []*subscription
		if old != nil {
			next = make([]*subscription, len(*old), len(*old)+1)
			copy(next, *old)
		}
		next = append(next, sub)
		if slot.CompareAndSwap(old, &next) {
			break
		}
	}
	return func() { b.unsubscribe(kind, sub) }
}

func (b *eventBus) unsubscribe(kind EventKind, sub *subscription) {
	slot := &b.subs[kind]
	for {
		old := slot.Load()
		if old == nil {
			return
		}
		next := make([]*subscription, 0, len(*old))
		for _, s := range *old {
			if s != sub {
				next = append(next, s)
			}
		}
		if len(next) == len(*old) {
			return
		}
		if slot.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (b *eventBus) handlers(kind EventKind) []*subscription {
	if p := b.subs[kind].Load(); p != nil {
		return *p
	}
	return nil
}

// Subscribe registers fn for events of kind and returns a function that
// removes it. Panics in fn are reported through EventErrorOccurred; panics
// in EventErrorOccurred handlers are dropped.
func (p *Pool) Subscribe(kind EventKind, fn EventHandler) (unsubscribe func()) {
	return p.events.subscribe(kind, fn)
}

func (p *Pool) emit(ev Event) {
	subs := p.events.handlers(ev.Kind)
	if len(subs) == 0 {
		return
	}
	ev.Pool = p.name
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, s := range subs {
		p.safeInvoke("event:"+ev.Kind.String(), ev.ID, ev.Kind == EventErrorOccurred, func() { s.fn(ev) })
	}
}

// safeInvoke runs user code owned by the pool (handlers, callbacks) and
// turns panics into EventErrorOccurred. quiet drops the panic instead.
func (p *Pool) safeInvoke(source string, id WorkID, quiet bool, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		perr := &PanicError{Value: r, Stack: debug.Stack()}
		p.log.Warn().Str("source", source).Interface("panic", r).Msg("recovered panic in pool callback")
		if quiet {
			return
		}
		p.emit(Event{Kind: EventErrorOccurred, ID: id, Source: source, Err: perr})
	}()
	fn()
}
