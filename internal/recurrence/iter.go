package recurrence

import (
	"time"

	rrulego "github.com/teambition/rrule-go"
)

// maxInstant is the last representable iCalendar instant (four digit
// years). Periods beyond it end the iteration.
var maxInstant = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

const (
	secondsPerDay  = 86400
	secondsPerWeek = 7 * secondsPerDay

	// Intervals are clamped to these so that step arithmetic cannot
	// overflow. A clamped step still places every period after the first
	// beyond maxInstant.
	maxStepSeconds = int64(1) << 40
	maxStepMonths  = int64(12 * 10000)

	// monthsPerCycle is the length of the Gregorian calendar cycle in
	// months: month lengths repeat every 400 years.
	monthsPerCycle = 400 * 12

	// maxCountCycle bounds the work spent counting occurrences skipped by
	// a fast-forward. Longer weekday cycles fall back to scanning.
	maxCountCycle = 7 * 24 * 60
)

var rruleFrequencies = map[Frequency]rrulego.Frequency{
	Secondly: rrulego.SECONDLY,
	Minutely: rrulego.MINUTELY,
	Hourly:   rrulego.HOURLY,
	Daily:    rrulego.DAILY,
	Weekly:   rrulego.WEEKLY,
	Monthly:  rrulego.MONTHLY,
	Yearly:   rrulego.YEARLY,
}

var rruleWeekdays = [7]rrulego.Weekday{
	rrulego.SU, rrulego.MO, rrulego.TU, rrulego.WE, rrulego.TH, rrulego.FR, rrulego.SA,
}

// iterator splits a valid rule into periods. Period k begins k steps of
// Interval frequency units after period 0; for WEEKLY rules with BYDAY a
// period is the whole week. The candidates themselves come from rrule-go,
// started at the lower bound of the first period of interest.
type iterator struct {
	rule     Rule
	start    time.Time     // DTSTART truncated to the second
	frac     time.Duration // sub-second part of DTSTART
	interval int           // clamped interval handed to rrule-go

	// Fixed length frequencies (SECONDLY..WEEKLY).
	base time.Time // lower bound of period 0
	step int64     // seconds per period

	// Calendar frequencies (MONTHLY, YEARLY).
	startMonth int64 // months since year 0 of DTSTART
	monthStep  int64 // months per period

	weekly bool // WEEKLY with BYDAY
	filter bool // BYDAY limits candidates instead of expanding weeks
}

func newIterator(r Rule) *iterator {
	dt := r.DTStart.MustGet().UTC()
	start := dt.Truncate(time.Second)
	it := &iterator{
		rule:  r,
		start: start,
		frac:  dt.Sub(start),
		base:  start,
	}
	interval := int64(r.Interval)

	switch r.Freq {
	case Monthly:
		it.startMonth = int64(start.Year())*12 + int64(start.Month()-1)
		it.monthStep = min(interval, maxStepMonths)
		it.interval = int(it.monthStep)
		return it
	case Yearly:
		it.startMonth = int64(start.Year())*12 + int64(start.Month()-1)
		it.interval = int(min(interval, maxStepMonths/12))
		it.monthStep = int64(it.interval) * 12
		return it
	}

	unit := r.Freq.seconds()
	it.interval = int(min(interval, maxStepSeconds/unit))
	it.step = int64(it.interval) * unit

	if r.ByDay.Empty() {
		return it
	}
	if r.Freq != Weekly {
		it.filter = true
		return it
	}

	// Align period 0 on the week containing DTSTART.
	it.weekly = true
	back := int64((start.Weekday() - r.WeekStart + 7) % 7)
	it.base = start.Add(-time.Duration(back) * secondsPerDay * time.Second)
	return it
}

// lower returns the lower bound of period k. ok is false once the period
// lies beyond maxInstant.
func (it *iterator) lower(k int64) (time.Time, bool) {
	if it.monthStep > 0 {
		total := it.startMonth + k*it.monthStep
		year, month := int(total/12), time.Month(total%12+1)
		if year > maxInstant.Year() {
			return time.Time{}, false
		}
		return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), true
	}

	secs := it.base.Unix() + k*it.step
	if secs > maxInstant.Unix() {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// options returns the rrule-go options generating the candidates of
// periods k and later. Calendar rules pin the day and time of DTSTART
// explicitly so that a shifted start keeps them.
func (it *iterator) options(k int64) (rrulego.ROption, bool) {
	opt := rrulego.ROption{
		Freq:     rruleFrequencies[it.rule.Freq],
		Dtstart:  it.start,
		Interval: it.interval,
		Wkst:     rruleWeekdays[it.rule.WeekStart%7],
		Until:    maxInstant,
	}
	for _, d := range it.rule.ByDay.Days(it.rule.WeekStart) {
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
	}
	if it.monthStep > 0 {
		opt.Bymonthday = []int{it.start.Day()}
		opt.Byhour = []int{it.start.Hour()}
		opt.Byminute = []int{it.start.Minute()}
		opt.Bysecond = []int{it.start.Second()}
		if it.rule.Freq == Yearly {
			opt.Bymonth = []int{int(it.start.Month())}
		}
	}

	if k > 0 {
		lower, ok := it.lower(k)
		if !ok {
			return opt, false
		}
		opt.Dtstart = lower
	}
	return opt, true
}

// countBefore counts the occurrences from DTSTART that fall before end.
// Callers keep end within one cycle of a matching period.
func (it *iterator) countBefore(end time.Time) int64 {
	opt, _ := it.options(0)
	if end.Before(opt.Until) {
		opt.Until = end
	}
	rr, err := rrulego.NewRRule(opt)
	if err != nil {
		return 0
	}

	var n int64
	next := rr.Iterator()
	for c, ok := next(); ok && c.Before(end); c, ok = next() {
		n++
	}
	return n
}

// barren reports whether a BYDAY filter rejects every period, as with
// FREQ=DAILY;INTERVAL=7;BYDAY=TU starting on a Monday.
func (it *iterator) barren() bool {
	if !it.filter {
		return false
	}
	cycle := it.cycle()
	if cycle == 0 {
		// Periods drift through the week by less than a minute.
		return false
	}
	for j := int64(0); j < cycle; j++ {
		lower, ok := it.lower(j)
		if !ok {
			break
		}
		if it.rule.ByDay.Has(lower.Weekday()) {
			return false
		}
	}
	return true
}

// seek returns the first period that can hold a candidate at or after
// after, and the number of occurrences produced by the periods before it.
// When withCount is set and that number cannot be computed cheaply, seek
// returns period 0 so the caller scans from DTSTART.
func (it *iterator) seek(after time.Time, withCount bool) (k int64, consumed int64) {
	if !after.After(it.base) {
		return 0, 0
	}

	if it.monthStep > 0 {
		months := int64(after.Year())*12 + int64(after.Month()-1) - it.startMonth
		k = months / it.monthStep
	} else {
		k = (after.Unix() - it.base.Unix()) / it.step
	}
	// Step back one period: whole second arithmetic may overshoot by a
	// fraction of a second.
	k--
	if k <= 0 {
		return 0, 0
	}
	if !withCount {
		return k, 0
	}

	n, ok := it.consumedBefore(k)
	if !ok {
		return 0, 0
	}
	return k, n
}

// consumedBefore counts the occurrences produced by periods [0, k).
func (it *iterator) consumedBefore(k int64) (int64, bool) {
	if it.weekly {
		// Only period 0 can lose days to DTSTART.
		second, ok := it.lower(1)
		if !ok {
			return 0, false
		}
		return it.countBefore(second) + (k-1)*int64(it.rule.ByDay.Len()), true
	}

	cycle := it.cycle()
	if cycle == 0 {
		return 0, false
	}
	full, rem := k/cycle, k%cycle

	var n int64
	if full > 0 {
		end, ok := it.lower(cycle)
		if !ok {
			return 0, false
		}
		n = full * it.countBefore(end)
	}
	if rem > 0 {
		end, ok := it.lower(rem)
		if !ok {
			return 0, false
		}
		n += it.countBefore(end)
	}
	return n, true
}

// cycle returns the number of periods after which the per-period yield
// repeats, or 0 when that cycle is too long to sum.
func (it *iterator) cycle() int64 {
	if it.monthStep > 0 {
		if it.start.Day() <= 28 {
			return 1
		}
		return monthsPerCycle / gcd(it.monthStep, monthsPerCycle)
	}
	if !it.filter {
		return 1
	}
	c := secondsPerWeek / gcd(it.step, secondsPerWeek)
	if c > maxCountCycle {
		return 0
	}
	return c
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
