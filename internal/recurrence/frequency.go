package recurrence

import (
	"strings"
	"time"
)

// Frequency is the repetition unit of a rule (RRULE FREQ).
type Frequency int

// The zero Frequency means FREQ was not given.
const (
	Secondly Frequency = iota + 1
	Minutely
	Hourly
	Daily
	Weekly
	Monthly
	Yearly
)

var frequencyNames = map[Frequency]string{
	Secondly: "SECONDLY",
	Minutely: "MINUTELY",
	Hourly:   "HOURLY",
	Daily:    "DAILY",
	Weekly:   "WEEKLY",
	Monthly:  "MONTHLY",
	Yearly:   "YEARLY",
}

func (f Frequency) String() string {
	if name, ok := frequencyNames[f]; ok {
		return name
	}
	return "UNSET"
}

// Valid reports whether f is one of the defined frequencies.
func (f Frequency) Valid() bool {
	return f >= Secondly && f <= Yearly
}

// seconds returns the fixed length of one unit for frequencies up to WEEKLY.
// MONTHLY and YEARLY are calendar based and return 0.
func (f Frequency) seconds() int64 {
	switch f {
	case Secondly:
		return 1
	case Minutely:
		return 60
	case Hourly:
		return 3600
	case Daily:
		return 86400
	case Weekly:
		return 7 * 86400
	default:
		return 0
	}
}

// ParseFrequency parses a FREQ value, case-insensitively.
func ParseFrequency(s string) (Frequency, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for f, name := range frequencyNames {
		if name == s {
			return f, true
		}
	}
	return 0, false
}

var weekdayCodes = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// WeekdayCode returns the two-letter iCalendar code for d.
func WeekdayCode(d time.Weekday) string {
	return weekdayCodes[d%7]
}

// ParseWeekday parses a two-letter weekday code such as "TU".
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, code := range weekdayCodes {
		if code == s {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

// WeekdaySet is a set of weekdays stored as a bit mask. The zero value is
// the empty set.
type WeekdaySet uint8

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

// With returns s with d added.
func (s WeekdaySet) With(d time.Weekday) WeekdaySet {
	return s | 1<<uint(d%7)
}

// Has reports whether d is in s.
func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d%7)) != 0
}

// Empty reports whether no weekday is set.
func (s WeekdaySet) Empty() bool {
	return s&0x7f == 0
}

// Len returns the number of weekdays in s.
func (s WeekdaySet) Len() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// Days returns the members of s in week order beginning at weekStart.
func (s WeekdaySet) Days(weekStart time.Weekday) []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for i := 0; i < 7; i++ {
		d := (weekStart + time.Weekday(i)) % 7
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// String renders s as a BYDAY value ("MO,WE") in Monday-first order.
func (s WeekdaySet) String() string {
	days := s.Days(time.Monday)
	codes := make([]string, len(days))
	for i, d := range days {
		codes[i] = WeekdayCode(d)
	}
	return strings.Join(codes, ",")
}
