package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/samber/mo"

	appLog "passroster/internal/log"
	"passroster/internal/model"
	"passroster/internal/recurrence"
)

var errEmptyBody = errors.New("empty ICS body")

// Parse parses a single ICS payload into events. VEVENTs that cannot be
// read are logged and skipped.
//
// Recurring events carry their rule as DTSTART/RRULE text built from the
// VEVENT's own DTSTART line, so a TZID applies to UNTIL as well.
func Parse(src Source, body []byte) ([]model.Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errEmptyBody
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", src.ID, err)
	}

	events := make([]model.Event, 0)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(src, ve)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "url", redactURL(src.URL), "err", err)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (model.Event, error) {
	ev := model.Event{SourceID: src.ID}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = p.Value
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return ev, errors.New("missing DTSTART")
	}
	start, err := propTime(dtstart)
	if err != nil {
		return ev, fmt.Errorf("DTSTART: %w", err)
	}
	ev.Start = start
	ev.AllDay = isDate(dtstart)

	switch dtend := ve.GetProperty(ical.ComponentPropertyDtEnd); {
	case dtend != nil:
		end, err := propTime(dtend)
		if err != nil {
			return ev, fmt.Errorf("DTEND: %w", err)
		}
		ev.End = end
	case ev.AllDay:
		ev.End = start.AddDate(0, 0, 1)
	default:
		ev.End = start
	}
	if ev.End.Before(ev.Start) {
		return ev, errors.New("DTEND before DTSTART")
	}

	if rrule := ve.GetProperty(ical.ComponentPropertyRrule); rrule != nil && rrule.Value != "" {
		ev.RRule = contentLine("DTSTART", dtstart) + "\nRRULE:" + rrule.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tzid := param(p, "TZID")
		for _, v := range strings.Split(p.Value, ",") {
			if strings.TrimSpace(v) == "" {
				continue
			}
			t, err := recurrence.ParseTime(v, tzid)
			if err != nil {
				appLog.Debug("ics exdate ignored", "uid", ev.UID, "value", v, "err", err)
				continue
			}
			ev.ExDates = append(ev.ExDates, t)
		}
	}

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		t, err := propTime(rid)
		if err != nil {
			return ev, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		ev.RecurrenceID = mo.Some(t)
	}

	return ev, nil
}

func propTime(p *ical.IANAProperty) (time.Time, error) {
	return recurrence.ParseTime(p.Value, param(p, "TZID"))
}

func isDate(p *ical.IANAProperty) bool {
	return strings.EqualFold(param(p, "VALUE"), "DATE") || !strings.Contains(p.Value, "T")
}

func param(p *ical.IANAProperty, name string) string {
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// contentLine renders p back as NAME;TZID=...:VALUE, keeping only the
// parameters the rule parser understands.
func contentLine(name string, p *ical.IANAProperty) string {
	var b strings.Builder
	b.WriteString(name)
	for _, k := range []string{"TZID", "VALUE"} {
		if v := param(p, k); v != "" {
			b.WriteString(";" + k + "=" + v)
		}
	}
	b.WriteString(":" + p.Value)
	return b.String()
}
