package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultHours are the daily trigger hours used when none are given.
var DefaultHours = []int{12, 20}

type PlanKind string

const (
	PlanDispatch PlanKind = "dispatch"
	PlanHoliday  PlanKind = "holiday"
	PlanMissed   PlanKind = "missed"
)

// Plan is the scheduler's next step.
type Plan struct {
	Kind      PlanKind  `json:"kind"`
	Trigger   time.Time `json:"trigger"`
	EntryDate time.Time `json:"entryDate"`
	WakeAt    time.Time `json:"wakeAt"`
	// Missed is set when every trigger hour of today has passed.
	Missed bool `json:"missed"`
}

// HolidayChecker answers whether a date is closed for booking.
type HolidayChecker interface {
	IsHoliday(ctx context.Context, date time.Time) bool
}

// Window turns trigger hours into plans.
type Window struct {
	hours []int
	loc   *time.Location
	lead  time.Duration
	sched cron.Schedule
}

var hourParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewWindow builds a window firing at the top of each hour in hours,
// evaluated in loc. lead is how long before a trigger dispatch plans wake.
func NewWindow(hours []int, loc *time.Location, lead time.Duration) (*Window, error) {
	if len(hours) == 0 {
		hours = DefaultHours
	}
	if loc == nil {
		loc = time.Local
	}
	if lead < 0 {
		lead = 0
	}

	seen := map[int]bool{}
	uniq := make([]int, 0, len(hours))
	for _, h := range hours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("trigger hour %d out of range 0-23", h)
		}
		if !seen[h] {
			seen[h] = true
			uniq = append(uniq, h)
		}
	}
	sort.Ints(uniq)

	parts := make([]string, len(uniq))
	for i, h := range uniq {
		parts[i] = strconv.Itoa(h)
	}
	spec, err := hourParser.Parse("0 0 " + strings.Join(parts, ",") + " * * *")
	if err != nil {
		return nil, err
	}
	if ss, ok := spec.(*cron.SpecSchedule); ok {
		ss.Location = loc
	}
	return &Window{hours: uniq, loc: loc, lead: lead, sched: spec}, nil
}

// ParseHours parses a comma separated hour list like "12,20".
func ParseHours(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("no trigger hours")
	}
	var out []int
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		h, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("trigger hour %q: %w", f, err)
		}
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("trigger hour %d out of range 0-23", h)
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, errors.New("no trigger hours")
	}
	return out, nil
}

func (w *Window) Hours() []int { return append([]int(nil), w.hours...) }

func (w *Window) Location() *time.Location { return w.loc }

// Compute returns the plan for now. The next trigger is the earliest hour
// still ahead today, else tomorrow's earliest hour. Tickets bought at a
// trigger are for the following day, so a holiday on that day sleeps past it.
func (w *Window) Compute(ctx context.Context, now time.Time, gate HolidayChecker) Plan {
	now = now.In(w.loc)
	today := midnight(now)
	tomorrow := today.AddDate(0, 0, 1)

	trigger := w.sched.Next(now).In(w.loc)
	triggerDay := midnight(trigger)
	entry := triggerDay.AddDate(0, 0, 1)

	p := Plan{
		Trigger:   trigger,
		EntryDate: entry,
		Missed:    !triggerDay.Equal(today),
	}
	switch {
	case gate != nil && gate.IsHoliday(ctx, entry):
		p.Kind = PlanHoliday
		p.WakeAt = entry
	case p.Missed:
		p.Kind = PlanMissed
		p.WakeAt = tomorrow
	default:
		p.Kind = PlanDispatch
		p.WakeAt = trigger.Add(-w.lead)
	}
	return p
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
