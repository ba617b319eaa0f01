package recurrence

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"
)

var errMalformedTimestamp = errors.New("malformed timestamp")

// property is one content line of rule text, e.g.
// "DTSTART;TZID=Europe/Stockholm:20200101T090000".
type property struct {
	name   string
	params map[string]string
	value  string
}

// Parse turns DTSTART/RRULE text into a Rule.
//
// Lines may appear in any order and the last DTSTART and RRULE line win.
// Unknown properties and unknown RRULE keys are dropped. A missing DTSTART or
// FREQ is not a parse error; Validate reports those.
func Parse(text string) (Rule, error) {
	rule := Rule{Interval: 1, WeekStart: time.Monday}

	props, err := scan(text)
	if err != nil {
		return Rule{}, err
	}

	var dtstart, rrule *property
	for i := range props {
		switch props[i].name {
		case "DTSTART":
			dtstart = &props[i]
		case "RRULE":
			rrule = &props[i]
		}
	}

	loc := time.UTC
	if dtstart != nil {
		if tzid := dtstart.params["TZID"]; tzid != "" {
			l, err := time.LoadLocation(tzid)
			if err != nil {
				return Rule{}, &ParseError{Property: "DTSTART", Value: tzid, Reason: "unknown TZID"}
			}
			loc = l
		}
		start, err := parseTimestamp(dtstart.value, loc)
		if err != nil {
			return Rule{}, &ParseError{Property: "DTSTART", Value: dtstart.value, Reason: err.Error()}
		}
		rule.DTStart = mo.Some(start)
	}

	if rrule != nil {
		if err := parseRRule(rrule.value, loc, &rule); err != nil {
			return Rule{}, err
		}
	}

	return rule, nil
}

// scan splits text into content lines. A bare "FREQ=..." line is read as an
// RRULE value.
func scan(text string) ([]property, error) {
	var props []property
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(line), "FREQ=") {
			props = append(props, property{name: "RRULE", value: line})
			continue
		}

		head, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ParseError{Property: "line", Value: line, Reason: "expected NAME:VALUE"}
		}

		segments := strings.Split(head, ";")
		p := property{
			name:  strings.ToUpper(strings.TrimSpace(segments[0])),
			value: strings.TrimSpace(value),
		}
		for _, seg := range segments[1:] {
			k, v, ok := strings.Cut(seg, "=")
			if !ok {
				continue
			}
			if p.params == nil {
				p.params = make(map[string]string)
			}
			p.params[strings.ToUpper(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
		}
		props = append(props, p)
	}
	return props, nil
}

// hasProperty reports whether text contains a content line named name,
// without parsing anything else.
func hasProperty(text, name string) bool {
	for _, line := range strings.Split(text, "\n") {
		head, _, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		head, _, _ = strings.Cut(head, ";")
		if strings.EqualFold(strings.TrimSpace(head), name) {
			return true
		}
	}
	return false
}

func parseRRule(value string, loc *time.Location, rule *Rule) error {
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return &ParseError{Property: "RRULE", Value: part, Reason: "expected KEY=VALUE"}
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		switch key {
		case "FREQ":
			f, ok := ParseFrequency(val)
			if !ok {
				return &ParseError{Property: key, Value: val, Reason: "unknown frequency"}
			}
			rule.Freq = f
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil {
				return &ParseError{Property: key, Value: val, Reason: "not an integer"}
			}
			rule.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil {
				return &ParseError{Property: key, Value: val, Reason: "not an integer"}
			}
			rule.Count = mo.Some(n)
		case "UNTIL":
			t, err := parseTimestamp(val, loc)
			if err != nil {
				return &ParseError{Property: key, Value: val, Reason: err.Error()}
			}
			rule.Until = mo.Some(t)
		case "BYDAY":
			set, err := parseByDay(val)
			if err != nil {
				return err
			}
			rule.ByDay = set
		case "WKST":
			d, ok := ParseWeekday(val)
			if !ok {
				return &ParseError{Property: key, Value: val, Reason: "unknown weekday"}
			}
			rule.WeekStart = d
		}
	}
	return nil
}

func parseByDay(val string) (WeekdaySet, error) {
	var set WeekdaySet
	for _, code := range strings.Split(val, ",") {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		d, ok := ParseWeekday(code)
		if !ok {
			return 0, &ParseError{Property: "BYDAY", Value: code, Reason: "unsupported weekday"}
		}
		set = set.With(d)
	}
	if set.Empty() {
		return 0, &ParseError{Property: "BYDAY", Value: val, Reason: "empty weekday list"}
	}
	return set, nil
}

// ParseTime parses a DATE or DATE-TIME value such as "20200101T090000Z",
// reading values without a trailing Z in the zone named by tzid (UTC when
// empty). The result is UTC.
func ParseTime(value, tzid string) (time.Time, error) {
	loc := time.UTC
	if tzid != "" {
		l, err := time.LoadLocation(tzid)
		if err != nil {
			return time.Time{}, err
		}
		loc = l
	}
	return parseTimestamp(value, loc)
}

// parseTimestamp parses the basic ISO-8601 forms allowed for DTSTART and
// UNTIL. Values without a trailing Z are read in loc. The result is UTC.
func parseTimestamp(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse(utcLayout, v)
	case len(v) == len("20060102T150405"):
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t.UTC(), err
	case len(v) == len("20060102"):
		t, err := time.ParseInLocation("20060102", v, loc)
		return t.UTC(), err
	default:
		return time.Time{}, errMalformedTimestamp
	}
}
