package recurrence

import "time"

// Period is one occurrence: a start paired with the event duration.
type Period struct {
	Start time.Time
	End   time.Time
}

// Pair applies d to every start.
func Pair(starts []time.Time, d time.Duration) ([]Period, error) {
	if d < 0 {
		return nil, ErrNegativeDuration
	}
	out := make([]Period, len(starts))
	for i, s := range starts {
		out[i] = Period{Start: s, End: s.Add(d)}
	}
	return out, nil
}

// PairMinutes is Pair with the duration given in whole minutes, the unit
// used at the service boundary.
func PairMinutes(starts []time.Time, minutes int) ([]Period, error) {
	return Pair(starts, time.Duration(minutes)*time.Minute)
}

// Flatten interleaves the periods as epoch milliseconds:
// start0, end0, start1, end1, ...
func Flatten(periods []Period) []int64 {
	out := make([]int64, 0, 2*len(periods))
	for _, p := range periods {
		out = append(out, p.Start.UnixMilli(), p.End.UnixMilli())
	}
	return out
}
