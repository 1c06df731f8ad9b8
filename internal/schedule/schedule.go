// Package schedule provides timed task scheduling for actor runtimes:
// cron- and tick-driven callbacks, cancellable tabs, and a pull-style
// fire iterator.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Standard 5-field cron expressions (minute granularity).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// TimedTask describes when a scheduled callback fires. CronTask and
// TickTask are the two implementations.
type TimedTask interface {
	// plan validates the task and returns its fire-time source.
	plan() (cron.Schedule, error)

	// once reports whether the task stops after its first fire.
	once() bool
}

// CronTask fires on a 5-field cron expression.
type CronTask struct {
	Expr string
	Once bool
}

func (t CronTask) plan() (cron.Schedule, error) {
	expr := strings.TrimSpace(t.Expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule: cron expression is required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

func (t CronTask) once() bool { return t.Once }

// TickTask fires at a fixed interval, starting one interval from
// scheduling time. Sub-second intervals are supported.
type TickTask struct {
	Interval time.Duration
	Once     bool
}

func (t TickTask) plan() (cron.Schedule, error) {
	if t.Interval <= 0 {
		return nil, fmt.Errorf("schedule: tick interval must be positive, got %v", t.Interval)
	}
	return tickSchedule(t.Interval), nil
}

func (t TickTask) once() bool { return t.Once }

// tickSchedule adapts a plain interval to cron.Schedule. cron.Every
// rounds to whole seconds, which is too coarse here.
type tickSchedule time.Duration

func (s tickSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s))
}
