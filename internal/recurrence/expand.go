package recurrence

import (
	"time"

	rrulego "github.com/teambition/rrule-go"
)

// DefaultMaxIterations is the default cap on candidates examined by one
// expansion.
const DefaultMaxIterations = 10000

// ExpandOptions tunes an expansion.
type ExpandOptions struct {
	// MaxIterations caps the candidates examined per call. Zero means
	// DefaultMaxIterations.
	MaxIterations int

	// scan disables fast-forwarding to the window start.
	scan bool
}

// Expand returns the occurrence starts of r inside w in ascending order,
// using the default options.
func Expand(r Rule, w Window) ([]time.Time, error) {
	return ExpandWithOptions(r, w, ExpandOptions{})
}

// ExpandWithOptions returns the occurrence starts of r inside w.
//
// Candidates are generated by rrule-go from the first period that can reach
// the window. COUNT is counted from DTSTART regardless of the window. When
// COUNT is set UNTIL is ignored. Expansion stops at the first candidate past
// the window, past UNTIL or beyond COUNT; examining more than
// opts.MaxIterations candidates before that fails with ErrExpansionOverflow
// rather than returning a truncated list.
func ExpandWithOptions(r Rule, w Window, opts ExpandOptions) ([]time.Time, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if w.Before.Before(w.After) {
		return nil, ErrInvalidWindow
	}
	limit := opts.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	w.After, w.Before = w.After.UTC(), w.Before.UTC()

	count, hasCount := r.Count.Get()
	until, hasUntil := r.Until.Get()
	if hasCount {
		hasUntil = false
	}

	out := make([]time.Time, 0)
	if w.After.After(maxInstant) {
		return out, nil
	}

	it := newIterator(r)
	if it.barren() {
		return out, nil
	}
	var k, consumed int64
	if !opts.scan {
		k, consumed = it.seek(w.After, hasCount)
	}

	opt, ok := it.options(k)
	if !ok {
		return out, nil
	}
	if hasCount {
		// rrule-go reads a zero Count as unbounded.
		if consumed >= int64(count) {
			return out, nil
		}
		opt.Count = count - int(consumed)
	}
	end := w.Before
	if hasUntil && until.Before(end) {
		end = until
	}
	if end.Before(opt.Dtstart) {
		return out, nil
	}
	if end.Before(opt.Until) {
		opt.Until = end
	}
	rr, err := rrulego.NewRRule(opt)
	if err != nil {
		return nil, err
	}

	examined := 0
	next := rr.Iterator()
	for c, ok := next(); ok; c, ok = next() {
		c = c.Add(it.frac)
		if (hasUntil && c.After(until)) || w.pastEnd(c) {
			break
		}
		examined++
		if examined > limit {
			return nil, ErrExpansionOverflow
		}
		if !c.Before(w.After) {
			out = append(out, c)
		}
	}
	return out, nil
}
