package powerpool

import "context"

type scopeKey struct{}

// execScope is attached to the context of every running work.
type execScope struct {
	pool   *Pool
	item   *workItem
	worker *worker
}

func scopeFrom(ctx context.Context) *execScope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*execScope)
	return s
}

// WorkIDFromContext returns the ID of the work running with ctx.
func WorkIDFromContext(ctx context.Context) (WorkID, bool) {
	s := scopeFrom(ctx)
	if s == nil {
		return WorkID{}, false
	}
	return s.item.id, true
}

// CheckIfRequestedStop reports whether the work running with ctx was asked
// to stop. It returns false outside a work.
func CheckIfRequestedStop(ctx context.Context) bool {
	s := scopeFrom(ctx)
	if s == nil {
		return false
	}
	if s.item.abandoned.Load() {
		panic(interruptSignal{})
	}
	return s.item.stopRequested()
}

// StopIfRequested ends the work running with ctx with status Stopped when
// a stop was requested. It does not return in that case.
func StopIfRequested(ctx context.Context) {
	if CheckIfRequestedStop(ctx) {
		panic(stopSignal{})
	}
}

// PauseIfRequested blocks while the pool or the work running with ctx is
// paused. It returns early when the work is asked to stop or ctx is done.
func PauseIfRequested(ctx context.Context) {
	s := scopeFrom(ctx)
	if s == nil {
		return
	}
	for {
		if s.item.abandoned.Load() {
			panic(interruptSignal{})
		}
		if s.item.stopRequested() {
			return
		}
		ch := s.item.paused.Load()
		if ch == nil {
			ch = s.pool.pauseCh.Load()
		}
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
