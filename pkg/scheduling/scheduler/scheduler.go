package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
	"github.com/vnykmshr/powerpool/pkg/common/validation"
	"github.com/vnykmshr/powerpool/pkg/metrics"
	"github.com/vnykmshr/powerpool/pkg/scheduling/powerpool"
)

const module = "scheduler"

// maxIDLength bounds entry IDs.
const maxIDLength = 255

// Submitter receives the works a scheduler releases. *powerpool.Pool
// implements it.
type Submitter interface {
	Submit(fn powerpool.WorkFunc, opts ...powerpool.WorkOption) (powerpool.WorkID, error)
}

var _ Submitter = (*powerpool.Pool)(nil)

// Entry describes a scheduled entry.
type Entry struct {
	ID       string
	RunAt    time.Time     // next submission
	Interval time.Duration // zero unless repeating
	Cron     string        // empty unless cron-scheduled
	Created  time.Time
	Runs     int // submissions so far
	LastWork powerpool.WorkID
}

// Scheduler submits works into a pool at given times.
type Scheduler interface {
	// Basic scheduling
	Schedule(id string, fn powerpool.WorkFunc, runAt time.Time, opts ...powerpool.WorkOption) error
	ScheduleAfter(id string, fn powerpool.WorkFunc, delay time.Duration, opts ...powerpool.WorkOption) error
	ScheduleRepeating(id string, fn powerpool.WorkFunc, interval time.Duration, opts ...powerpool.WorkOption) error

	// Cron scheduling
	ScheduleCron(id string, cronExpr string, fn powerpool.WorkFunc, opts ...powerpool.WorkOption) error
	ScheduleCronWithOptions(id string, cronExpr string, fn powerpool.WorkFunc, cronOpts CronOptions, opts ...powerpool.WorkOption) error
	UpdateCron(id string, cronExpr string) error

	// Entry management
	NextRun(id string) (time.Time, bool)
	Cancel(id string) bool
	CancelAll()
	List() []Entry

	// Lifecycle
	Start() error
	Stop() <-chan struct{}

	metrics.Instrumentable
}

// Config holds scheduler configuration.
type Config struct {
	// Pool receives due works. When nil the scheduler creates a pool of
	// its own and disposes it on Stop.
	Pool Submitter

	// Name labels logs and metrics (default: "scheduler").
	Name string

	Location     *time.Location // For cron scheduling
	TickInterval time.Duration  // How often to check for due entries (default: 50ms)
	MaxEntries   int            // Maximum number of scheduled entries (default: 10000)

	// Logger receives scheduler logs. Nil discards them.
	Logger *zerolog.Logger

	Metrics metrics.Config
}

type entry struct {
	id       string
	fn       powerpool.WorkFunc
	opt      powerpool.WorkOption
	runAt    time.Time
	interval time.Duration
	cronExpr string
	schedule cron.Schedule
	cronOpts CronOptions
	created  time.Time
	runs     int
	lastWork powerpool.WorkID

	// running is set while a submitted work of a SkipIfStillRunning entry
	// has not finished.
	running atomic.Bool

	index int // position in the due queue, -1 when removed
}

func (e *entry) snapshot() Entry {
	return Entry{
		ID:       e.id,
		RunAt:    e.runAt,
		Interval: e.interval,
		Cron:     e.cronExpr,
		Created:  e.created,
		Runs:     e.runs,
		LastWork: e.lastWork,
	}
}

type scheduler struct {
	pool         Submitter
	ownPool      *powerpool.Pool
	name         string
	location     *time.Location
	tickInterval time.Duration
	maxEntries   int
	log          zerolog.Logger
	metrics      atomic.Pointer[metrics.Registry]

	mu      sync.Mutex
	entries map[string]*entry
	due     dueQueue
	ticker  *time.Ticker
	done    chan struct{}
	exited  chan struct{}
	running bool
}

// New creates a scheduler with its own pool and default configuration.
func New() Scheduler {
	s, err := NewWithConfig(Config{})
	if err != nil {
		panic(err)
	}
	return s
}

// NewWithConfig creates a scheduler with custom configuration.
func NewWithConfig(cfg Config) (Scheduler, error) {
	if err := validation.ValidateNonNegativeDuration(module, "TickInterval", cfg.TickInterval); err != nil {
		return nil, err
	}
	if cfg.MaxEntries < 0 {
		return nil, validation.ValidatePositive(module, "MaxEntries", cfg.MaxEntries)
	}

	name := cfg.Name
	if name == "" {
		name = "scheduler"
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("scheduler", name).Logger()
	}

	s := &scheduler{
		pool:         cfg.Pool,
		name:         name,
		location:     cfg.Location,
		tickInterval: cfg.TickInterval,
		maxEntries:   cfg.MaxEntries,
		log:          log,
		entries:      make(map[string]*entry),
	}
	if s.pool == nil {
		pcfg := powerpool.DefaultConfig()
		pcfg.Name = name
		pcfg.Logger = cfg.Logger
		pool, err := powerpool.NewWithConfig(pcfg)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		s.ownPool = pool
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.tickInterval == 0 {
		s.tickInterval = 50 * time.Millisecond // Reasonable default
	}
	if s.maxEntries == 0 {
		s.maxEntries = 10000 // Reasonable default
	}
	if cfg.Metrics.Enabled {
		if err := s.EnableMetrics(cfg.Metrics); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func validateEntry(id string, fn powerpool.WorkFunc) error {
	if err := validation.ValidateNotEmpty(module, "id", id); err != nil {
		return err
	}
	if len(id) > maxIDLength {
		return gferrors.NewValidationError(module, "id", id,
			fmt.Sprintf("too long (max %d characters)", maxIDLength))
	}
	if fn == nil {
		return gferrors.NewValidationError(module, "fn", nil, "cannot be nil")
	}
	return nil
}

func lastOption(opts []powerpool.WorkOption) powerpool.WorkOption {
	if len(opts) == 0 {
		return powerpool.WorkOption{}
	}
	return opts[len(opts)-1]
}

// add inserts e under s.mu.
func (s *scheduler) add(e *entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.id]; exists {
		return gferrors.NewOperationError(module, "Schedule", gferrors.ErrDuplicateWorkID).
			WithContext(fmt.Sprintf("entry %q already exists, cancel it first", e.id))
	}
	if len(s.entries) >= s.maxEntries {
		return gferrors.NewOperationError(module, "Schedule", gferrors.ErrCapacityExceeded).
			WithContext(fmt.Sprintf("maximum number of entries (%d) reached", s.maxEntries))
	}

	e.created = time.Now()
	s.entries[e.id] = e
	heap.Push(&s.due, e)
	s.observeEntries()
	s.log.Debug().Str("entry", e.id).Time("run_at", e.runAt).Msg("entry scheduled")
	return nil
}

func (s *scheduler) Schedule(id string, fn powerpool.WorkFunc, runAt time.Time, opts ...powerpool.WorkOption) error {
	if err := validateEntry(id, fn); err != nil {
		return err
	}
	if runAt.IsZero() {
		return gferrors.NewValidationError(module, "runAt", runAt, "cannot be zero")
	}
	return s.add(&entry{id: id, fn: fn, opt: lastOption(opts), runAt: runAt})
}

func (s *scheduler) ScheduleAfter(id string, fn powerpool.WorkFunc, delay time.Duration, opts ...powerpool.WorkOption) error {
	return s.Schedule(id, fn, time.Now().Add(delay), opts...)
}

// ScheduleRepeating submits fn right away and then every interval.
func (s *scheduler) ScheduleRepeating(id string, fn powerpool.WorkFunc, interval time.Duration, opts ...powerpool.WorkOption) error {
	if err := validateEntry(id, fn); err != nil {
		return err
	}
	if interval <= 0 {
		return gferrors.NewValidationError(module, "interval", interval, "must be positive")
	}
	return s.add(&entry{id: id, fn: fn, opt: lastOption(opts), runAt: time.Now(), interval: interval})
}

func (s *scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[id]
	if !exists {
		return false
	}
	s.remove(e)
	return true
}

// remove drops e under s.mu.
func (s *scheduler) remove(e *entry) {
	delete(s.entries, e.id)
	if e.index >= 0 {
		heap.Remove(&s.due, e.index)
	}
	s.observeEntries()
}

func (s *scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
	for _, e := range s.due {
		e.index = -1
	}
	s.due = nil
	s.observeEntries()
}

func (s *scheduler) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e.snapshot())
	}

	// Sort by run time
	sort.Slice(list, func(i, j int) bool {
		return list[i].RunAt.Before(list[j].RunAt)
	})
	return list
}

func (s *scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.runAt, true
}

func (s *scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return gferrors.NewOperationError(module, "Start", gferrors.ErrInvalidConfiguration).
			WithContext("scheduler already running, call Stop() first")
	}

	s.running = true
	s.ticker = time.NewTicker(s.tickInterval)
	s.done = make(chan struct{})
	s.exited = make(chan struct{})
	go s.run(s.ticker, s.done, s.exited)
	s.log.Info().Dur("tick", s.tickInterval).Msg("scheduler started")
	return nil
}

// Stop halts the tick loop. Entries stay scheduled and run again after the
// next Start, unless the scheduler owns its pool: that pool is disposed
// here. The returned channel closes once the loop has exited.
func (s *scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	exited := s.exited
	if s.running {
		s.running = false
		close(s.done)
		s.ticker.Stop()
	}
	s.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if exited != nil {
			<-exited
		}
		if s.ownPool != nil {
			if err := s.ownPool.Dispose(context.Background()); err != nil {
				s.log.Warn().Err(err).Msg("disposing scheduler pool")
			}
		}
		s.log.Info().Msg("scheduler stopped")
	}()
	return stopped
}

func (s *scheduler) run(ticker *time.Ticker, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			s.processDue(now)
		}
	}
}

type release struct {
	e   *entry
	fn  powerpool.WorkFunc
	opt powerpool.WorkOption
}

func (s *scheduler) processDue(now time.Time) {
	s.mu.Lock()
	var ready []release
	for len(s.due) > 0 && !s.due[0].runAt.After(now) {
		e := s.due[0]
		switch {
		case e.interval > 0:
			e.runAt = now.Add(e.interval)
			heap.Fix(&s.due, 0)
		case e.schedule != nil:
			e.runAt = e.schedule.Next(now.In(e.cronOpts.location(s.location)))
			heap.Fix(&s.due, 0)
		default:
			s.remove(e)
		}

		if e.cronOpts.SkipIfStillRunning && e.running.Load() {
			s.observeRun("skipped")
			s.log.Debug().Str("entry", e.id).Msg("previous run still going, skipped")
			continue
		}
		e.runs++
		if limit := e.cronOpts.MaxRuns; limit > 0 && e.runs >= limit && e.index >= 0 {
			s.remove(e)
		}
		ready = append(ready, release{e: e, fn: e.fn, opt: s.workOption(e)})
	}
	s.mu.Unlock()

	for _, r := range ready {
		id, err := s.pool.Submit(r.fn, r.opt)
		if err != nil {
			r.e.running.Store(false)
			s.observeRun("rejected")
			s.log.Warn().Err(err).Str("entry", r.e.id).Msg("scheduled submission failed")
			continue
		}
		s.observeRun("submitted")

		s.mu.Lock()
		r.e.lastWork = id
		s.mu.Unlock()
	}
}

// workOption returns the option the next submission of e uses. The entry's
// own callback still runs.
func (s *scheduler) workOption(e *entry) powerpool.WorkOption {
	opt := e.opt
	track := e.cronOpts.SkipIfStillRunning
	reportErrors := e.cronOpts.OnError != nil || e.cronOpts.StopOnError
	if !track && !reportErrors {
		return opt
	}
	if track {
		e.running.Store(true)
	}

	user := opt.Callback
	opt.Callback = func(res powerpool.ExecuteResult) {
		if track {
			e.running.Store(false)
		}
		if res.Status == powerpool.Failed {
			if e.cronOpts.OnError != nil {
				e.cronOpts.OnError(e.id, res)
			}
			if e.cronOpts.StopOnError {
				s.cancelEntry(e)
			}
		}
		if user != nil {
			user(res)
		}
	}
	return opt
}

// cancelEntry removes e if it is still the scheduled entry for its ID.
func (s *scheduler) cancelEntry(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[e.id]; ok && cur == e {
		s.remove(e)
		s.log.Info().Str("entry", e.id).Msg("entry removed after failure")
	}
}

func (s *scheduler) EnableMetrics(cfg metrics.Config) error {
	reg, err := metrics.For(cfg)
	if err != nil {
		return err
	}
	s.metrics.Store(reg)
	s.mu.Lock()
	s.observeEntries()
	s.mu.Unlock()
	return nil
}

func (s *scheduler) DisableMetrics() {
	s.metrics.Store(nil)
}

func (s *scheduler) MetricsEnabled() bool {
	return s.metrics.Load() != nil
}

// observeEntries runs under s.mu.
func (s *scheduler) observeEntries() {
	if reg := s.metrics.Load(); reg != nil {
		reg.SchedulerEntries.WithLabelValues(s.name).Set(float64(len(s.entries)))
	}
}

func (s *scheduler) observeRun(outcome string) {
	if reg := s.metrics.Load(); reg != nil {
		reg.SchedulerRuns.WithLabelValues(s.name, outcome).Inc()
	}
}
