// Package recurrence parses, validates and expands RRULE/DTSTART rule text
// (FREQ, INTERVAL, COUNT, UNTIL, BYDAY and WKST) into UTC occurrence
// starts within a window.
package recurrence

import (
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"
)

// utcLayout is the basic ISO-8601 form used by DTSTART and UNTIL.
const utcLayout = "20060102T150405Z"

// Rule is a parsed recurrence rule. All instants are UTC. A Rule returned by
// Parse is not guaranteed to be valid; Expand validates before iterating.
type Rule struct {
	DTStart   mo.Option[time.Time]
	Freq      Frequency
	Interval  int
	Count     mo.Option[int]
	Until     mo.Option[time.Time]
	ByDay     WeekdaySet
	WeekStart time.Weekday
}

// String renders r in canonical form: a UTC DTSTART line followed by an
// RRULE line with keys in a fixed order. Parse(r.String()) yields r.
func (r Rule) String() string {
	var b strings.Builder
	if start, ok := r.DTStart.Get(); ok {
		b.WriteString("DTSTART:")
		b.WriteString(start.UTC().Format(utcLayout))
		b.WriteString("\n")
	}
	if !r.Freq.Valid() {
		return strings.TrimSuffix(b.String(), "\n")
	}

	parts := []string{"FREQ=" + r.Freq.String()}
	if r.Interval != 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if count, ok := r.Count.Get(); ok {
		parts = append(parts, "COUNT="+strconv.Itoa(count))
	}
	if until, ok := r.Until.Get(); ok {
		parts = append(parts, "UNTIL="+until.UTC().Format(utcLayout))
	}
	if !r.ByDay.Empty() {
		parts = append(parts, "BYDAY="+r.ByDay.String())
	}
	if r.WeekStart != time.Monday {
		parts = append(parts, "WKST="+WeekdayCode(r.WeekStart))
	}

	b.WriteString("RRULE:")
	b.WriteString(strings.Join(parts, ";"))
	return b.String()
}

// Window bounds an expansion. After is always inclusive; Before is
// inclusive only when Inclusive is set.
type Window struct {
	After     time.Time
	Before    time.Time
	Inclusive bool
}

// Contains reports whether t lies inside w.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.After) && !w.pastEnd(t)
}

// pastEnd reports whether t is beyond the upper bound of w.
func (w Window) pastEnd(t time.Time) bool {
	if w.Inclusive {
		return t.After(w.Before)
	}
	return !t.Before(w.Before)
}
