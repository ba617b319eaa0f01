// Package schedule is the boundary around the recurrence engine: it takes
// rule text, a window and a duration in minutes and returns flat epoch
// millisecond start/end pairs.
package schedule

import (
	"errors"
	"time"

	"github.com/samber/mo"

	"passroster/internal/recurrence"
)

// Request is one expansion call at the boundary.
type Request struct {
	Rule            string
	Window          recurrence.Window
	DurationMinutes int

	// Until is an event level cutoff on top of the rule's own COUNT and
	// UNTIL. It is inclusive.
	Until mo.Option[time.Time]
}

// Options tunes expansion.
type Options struct {
	// MaxIterations caps candidates examined per expansion. Zero means
	// recurrence.DefaultMaxIterations.
	MaxIterations int
}

func (o Options) expand() recurrence.ExpandOptions {
	return recurrence.ExpandOptions{MaxIterations: o.MaxIterations}
}

// Error kinds reported by Kind.
const (
	KindParse      = "parse"
	KindValidation = "validation"
	KindOverflow   = "overflow"
	KindContract   = "contract"
)

// Validate returns nil for a valid rule text or the diagnostic error.
func Validate(text string) error {
	return recurrence.Validate(text)
}

// Expand validates req.Rule and returns its occurrences in req.Window as
// start0, end0, start1, end1, ... epoch milliseconds.
func Expand(req Request, opts Options) ([]int64, error) {
	if req.DurationMinutes < 0 {
		return nil, recurrence.ErrNegativeDuration
	}
	rule, err := parse(req.Rule)
	if err != nil {
		return nil, err
	}
	w, ok, err := clampUntil(req.Window, req.Until)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []int64{}, nil
	}
	starts, err := recurrence.ExpandWithOptions(rule, w, opts.expand())
	if err != nil {
		return nil, err
	}
	return flatten(starts, req.DurationMinutes)
}

// clampUntil replaces the end of w with until when until comes first. ok
// is false when until precedes the whole window.
func clampUntil(w recurrence.Window, until mo.Option[time.Time]) (recurrence.Window, bool, error) {
	if w.Before.Before(w.After) {
		return w, false, recurrence.ErrInvalidWindow
	}
	u, set := until.Get()
	if !set {
		return w, true, nil
	}
	if u.Before(w.After) {
		return w, false, nil
	}
	if u.Before(w.Before) {
		w.Before, w.Inclusive = u, true
	}
	return w, true, nil
}

// parse runs the validator first so that text without DTSTART reports
// the missing DTSTART even when the rest of it would not parse.
func parse(text string) (recurrence.Rule, error) {
	if err := recurrence.Validate(text); err != nil {
		return recurrence.Rule{}, err
	}
	return recurrence.Parse(text)
}

func flatten(starts []time.Time, minutes int) ([]int64, error) {
	periods, err := recurrence.PairMinutes(starts, minutes)
	if err != nil {
		return nil, err
	}
	return recurrence.Flatten(periods), nil
}

// Kind classifies an error returned by this package. It returns "" for
// nil and KindContract for anything unrecognized.
func Kind(err error) string {
	var (
		perr *recurrence.ParseError
		verr *recurrence.ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, recurrence.ErrExpansionOverflow):
		return KindOverflow
	case errors.As(err, &verr):
		// A ValidationError may carry a ParseError; it is still a
		// validation diagnostic.
		return KindValidation
	case errors.As(err, &perr):
		return KindParse
	default:
		return KindContract
	}
}
