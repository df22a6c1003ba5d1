package scheduler

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
	"github.com/vnykmshr/powerpool/pkg/scheduling/powerpool"
)

// CronOptions configures a cron-scheduled entry.
type CronOptions struct {
	// MaxRuns limits the number of submissions (0 = unlimited)
	MaxRuns int

	// TimeZone overrides Config.Location for this entry
	TimeZone *time.Location

	// StopOnError removes the entry after a submitted work ends Failed
	StopOnError bool

	// SkipIfStillRunning skips a due run while the previous work has not
	// finished
	SkipIfStillRunning bool

	// OnError receives the result of every submitted work that ends Failed
	OnError func(id string, res powerpool.ExecuteResult)
}

func (o CronOptions) location(fallback *time.Location) *time.Location {
	if o.TimeZone != nil {
		return o.TimeZone
	}
	return fallback
}

// CronDescription summarises an expression by the firing times it produces.
type CronDescription struct {
	Expression string
	// Description is "Every <interval>" when the upcoming runs are evenly
	// spaced, otherwise "Irregular (<expression>)".
	Description string
	NextRuns    []time.Time
	TimeZone    string
}

// parser accepts an optional leading seconds field and descriptors such as
// "@hourly" or "@every 5m".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ScheduleCron submits fn whenever cronExpr fires. The expression takes
// six fields with seconds first, five fields firing at second 0, or a
// descriptor:
//
//	"*/5 * * * * *"   - every 5 seconds
//	"0 30 14 * * 1-5" - 2:30 PM on weekdays
//	"@hourly"         - every hour
func (s *scheduler) ScheduleCron(id string, cronExpr string, fn powerpool.WorkFunc, opts ...powerpool.WorkOption) error {
	return s.ScheduleCronWithOptions(id, cronExpr, fn, CronOptions{}, opts...)
}

func (s *scheduler) ScheduleCronWithOptions(id string, cronExpr string, fn powerpool.WorkFunc, cronOpts CronOptions, opts ...powerpool.WorkOption) error {
	if err := validateEntry(id, fn); err != nil {
		return err
	}
	schedule, err := s.parseCron(cronExpr)
	if err != nil {
		return err
	}
	if cronOpts.MaxRuns < 0 {
		return gferrors.NewValidationError(module, "MaxRuns", cronOpts.MaxRuns, "must be non-negative")
	}

	return s.add(&entry{
		id:       id,
		fn:       fn,
		opt:      lastOption(opts),
		runAt:    schedule.Next(time.Now().In(cronOpts.location(s.location))),
		cronExpr: cronExpr,
		schedule: schedule,
		cronOpts: cronOpts,
	})
}

func (s *scheduler) parseCron(cronExpr string) (cron.Schedule, error) {
	if cronExpr == "" {
		return nil, gferrors.NewValidationError(module, "cronExpr", cronExpr, "cannot be empty")
	}
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, gferrors.NewValidationError(module, "cronExpr", cronExpr, err.Error()).
			WithHint("use five or six fields, or a descriptor like @hourly")
	}
	return schedule, nil
}

// UpdateCron replaces the expression of a cron entry and recomputes its
// next run.
func (s *scheduler) UpdateCron(id string, cronExpr string) error {
	schedule, err := s.parseCron(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.schedule == nil {
		return gferrors.NewOperationError(module, "UpdateCron", gferrors.ErrWorkNotFound).
			WithContext(fmt.Sprintf("cron entry %q", id))
	}
	e.cronExpr = cronExpr
	e.schedule = schedule
	e.runAt = schedule.Next(time.Now().In(e.cronOpts.location(s.location)))
	heap.Fix(&s.due, e.index)
	return nil
}

// ValidateCronExpression reports whether cronExpr can be scheduled.
func ValidateCronExpression(cronExpr string) error {
	_, err := parser.Parse(cronExpr)
	return err
}

// DescribeCron returns the next five firing times of cronExpr in loc, which
// defaults to time.Local.
func DescribeCron(cronExpr string, loc *time.Location) (CronDescription, error) {
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return CronDescription{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}

	runs := make([]time.Time, 5)
	at := time.Now().In(loc)
	for i := range runs {
		at = schedule.Next(at)
		runs[i] = at
	}

	return CronDescription{
		Expression:  cronExpr,
		Description: describe(cronExpr, schedule, runs),
		NextRuns:    runs,
		TimeZone:    loc.String(),
	}, nil
}

func describe(expr string, schedule cron.Schedule, runs []time.Time) string {
	if every, ok := schedule.(cron.ConstantDelaySchedule); ok {
		return "Every " + every.Delay.String()
	}
	gap := runs[1].Sub(runs[0])
	for i := 2; i < len(runs); i++ {
		if runs[i].Sub(runs[i-1]) != gap {
			return "Irregular (" + expr + ")"
		}
	}
	return "Every " + gap.String()
}
