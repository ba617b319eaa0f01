package ics

import (
	"slices"
	"sort"
	"time"

	appLog "passroster/internal/log"
	"passroster/internal/model"
	"passroster/internal/recurrence"
)

// Expander turns one event into its periods inside a window.
// *schedule.Service implements it.
type Expander interface {
	ExpandEvent(ev model.Event, w recurrence.Window) ([]recurrence.Period, error)
}

// ExpandResult wraps the expanded occurrences and the UIDs whose rule
// could not be expanded.
type ExpandResult struct {
	Occurrences []model.Occurrence
	FailedUIDs  []string
}

// ExpandOccurrences expands events into concrete occurrences inside w,
// ordered by start. It handles:
//
//   - single and RRULE-based events
//   - EXDATE removal
//   - RECURRENCE-ID overrides, including instances moved into or out of w
//
// An event whose rule fails to expand (invalid rule, iteration limit) is
// reported in FailedUIDs and contributes no occurrences.
func ExpandOccurrences(x Expander, events []model.Event, w recurrence.Window) (ExpandResult, error) {
	var result ExpandResult
	if w.Before.Before(w.After) {
		return result, recurrence.ErrInvalidWindow
	}

	baseByUID := make(map[string][]model.Event)
	overridesByUID := make(map[string][]model.Event)
	for _, ev := range events {
		if ev.IsOverride() {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	uids := make([]string, 0, len(baseByUID)+len(overridesByUID))
	for uid := range baseByUID {
		uids = append(uids, uid)
	}
	for uid := range overridesByUID {
		if _, ok := baseByUID[uid]; !ok {
			uids = append(uids, uid)
		}
	}
	sort.Strings(uids)

	out := make([]model.Occurrence, 0)
	for _, uid := range uids {
		overrides := overridesByUID[uid]
		used := make([]bool, len(overrides))
		failed := false

		for _, ev := range baseByUID[uid] {
			periods, err := x.ExpandEvent(ev, w)
			if err != nil {
				appLog.Error("expand: event skipped", err, "uid", uid, "source", ev.SourceID)
				failed = true
				continue
			}
			for _, p := range periods {
				if isExcluded(ev.ExDates, p.Start) {
					continue
				}
				if i := findOverride(overrides, p.Start); i >= 0 {
					used[i] = true
					if o := overrides[i]; w.Contains(o.Start) {
						out = append(out, makeOccurrence(o, p.Start, o.Start, o.End))
					}
					continue
				}
				out = append(out, makeOccurrence(ev, p.Start, p.Start, p.End))
			}
		}

		// Overrides of instances outside w that were moved into it, and
		// overrides without a base event.
		for i, o := range overrides {
			if used[i] || !w.Contains(o.Start) {
				continue
			}
			if slices.ContainsFunc(baseByUID[uid], func(ev model.Event) bool {
				return isExcluded(ev.ExDates, o.RecurrenceID.MustGet())
			}) {
				continue
			}
			out = append(out, makeOccurrence(o, o.RecurrenceID.MustGet(), o.Start, o.End))
		}

		if failed {
			result.FailedUIDs = append(result.FailedUIDs, uid)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].UID < out[j].UID
	})
	result.Occurrences = out
	return result, nil
}

func isExcluded(exdates []time.Time, start time.Time) bool {
	for _, ex := range exdates {
		if ex.Equal(start) {
			return true
		}
	}
	return false
}

// findOverride returns the index of the override replacing the instance
// starting at start, or -1.
func findOverride(overrides []model.Event, start time.Time) int {
	for i, o := range overrides {
		if o.RecurrenceID.MustGet().Equal(start) {
			return i
		}
	}
	return -1
}

// makeOccurrence builds the occurrence of ev for the instance originally
// starting at instance.
func makeOccurrence(ev model.Event, instance, start, end time.Time) model.Occurrence {
	return model.Occurrence{
		SourceID:    ev.SourceID,
		UID:         ev.UID,
		InstanceKey: ev.UID + "/" + instance.UTC().Format(time.RFC3339),
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start.UTC(),
		End:         end.UTC(),
	}
}
