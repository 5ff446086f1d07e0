package crontab

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// searchLimit bounds Next for predicates which never match, like "0 0 31 2 *"
const searchLimit = 5 * 366 * 24 * time.Hour

// Predicate is a five-field time predicate (minute, hour, day-of-month, month, day-of-week).
// A timestamp matches if every field matches; unlike classic cron, restricted day-of-month and day-of-week
// are both required to match. Predicate implements cron.Schedule.
type Predicate struct {
	spec *cron.SpecSchedule
}

// ParsePredicate parses five fields ("0,30 * * * *") or a descriptor (@daily).
// Field values are parsed with robfig/cron standard parser, so ranges, steps and names are allowed.
func ParsePredicate(spec string) (Predicate, error) {
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "@every") || strings.HasPrefix(spec, "@reboot") {
		return Predicate{}, fmt.Errorf("%q is not a time predicate", spec)
	}
	if !strings.HasPrefix(spec, "@") && !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
		if n := len(strings.Fields(spec)); n != 5 {
			return Predicate{}, fmt.Errorf("expected 5 fields in %q, got %d", spec, n)
		}
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return Predicate{}, fmt.Errorf("can't parse %q: %w", spec, err)
	}
	ss, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return Predicate{}, fmt.Errorf("%q is not a time predicate", spec)
	}
	return Predicate{spec: ss}, nil
}

// Match checks if the timestamp (minute resolution) satisfies all five fields
func (p Predicate) Match(t time.Time) bool {
	if p.spec == nil {
		return false
	}
	t = t.In(p.location())
	return hasBit(p.spec.Minute, t.Minute()) &&
		hasBit(p.spec.Hour, t.Hour()) &&
		hasBit(p.spec.Dom, t.Day()) &&
		hasBit(p.spec.Month, int(t.Month())) &&
		hasBit(p.spec.Dow, int(t.Weekday()))
}

// Next returns the first matching minute strictly after t, or zero time if nothing matches within five years
func (p Predicate) Next(t time.Time) time.Time {
	if p.spec == nil {
		return time.Time{}
	}
	loc := p.location()
	origLoc := t.Location()
	t = t.In(loc)
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc).Add(time.Minute)
	limit := t.Add(searchLimit)

	for t.Before(limit) {
		switch {
		case !hasBit(p.spec.Month, int(t.Month())):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
		case !hasBit(p.spec.Dom, t.Day()) || !hasBit(p.spec.Dow, int(t.Weekday())):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
		case !hasBit(p.spec.Hour, t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
		case !hasBit(p.spec.Minute, t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t.In(origLoc)
		}
	}
	return time.Time{}
}

// IsZero reports if predicate was not parsed
func (p Predicate) IsZero() bool {
	return p.spec == nil
}

func (p Predicate) location() *time.Location {
	if p.spec.Location == nil {
		return time.Local
	}
	return p.spec.Location
}

func hasBit(mask uint64, v int) bool {
	return mask&(1<<uint(v)) != 0 //nolint:gosec // v is a small non-negative calendar value
}
