package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passroster/internal/model"
	"passroster/internal/recurrence"
)

const dailyRule = "DTSTART:20120201T093000Z\nRRULE:FREQ=DAILY"

func ms(y int, m time.Month, d, h, mi int) int64 {
	return time.Date(y, m, d, h, mi, 0, 0, time.UTC).UnixMilli()
}

func window(after, before time.Time, inclusive bool) recurrence.Window {
	return recurrence.Window{After: after, Before: before, Inclusive: inclusive}
}

func TestExpand_Scenarios(t *testing.T) {
	after := time.Date(2020, 2, 1, 9, 30, 0, 0, time.UTC)
	before := time.Date(2020, 2, 2, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		req  Request
		want []int64
	}{
		{
			name: "inclusive window keeps both boundaries",
			req:  Request{Rule: dailyRule, Window: window(after, before, true), DurationMinutes: 60},
			want: []int64{
				ms(2020, 2, 1, 9, 30), ms(2020, 2, 1, 10, 30),
				ms(2020, 2, 2, 9, 30), ms(2020, 2, 2, 10, 30),
			},
		},
		{
			name: "exclusive window drops the upper boundary",
			req:  Request{Rule: dailyRule, Window: window(after, before, false), DurationMinutes: 60},
			want: []int64{ms(2020, 2, 1, 9, 30), ms(2020, 2, 1, 10, 30)},
		},
		{
			name: "zero duration",
			req:  Request{Rule: dailyRule, Window: window(after, after, true)},
			want: []int64{ms(2020, 2, 1, 9, 30), ms(2020, 2, 1, 9, 30)},
		},
		{
			name: "nothing in window",
			req:  Request{Rule: dailyRule, Window: window(after.AddDate(-10, 0, 0), after.AddDate(-9, 0, 0), false), DurationMinutes: 30},
			want: []int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.req, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpand_WeeklyByDay(t *testing.T) {
	req := Request{
		Rule: "DTSTART:20120201T093000Z\nRRULE:FREQ=WEEKLY;BYDAY=SU,TU,TH,SA;INTERVAL=1",
		Window: window(
			time.Date(2020, 2, 3, 0, 0, 0, 0, time.UTC),
			time.Date(2020, 2, 17, 0, 0, 0, 0, time.UTC),
			false,
		),
		DurationMinutes: 15,
	}

	got, err := Expand(req, Options{})
	require.NoError(t, err)
	require.Len(t, got, 16)

	for i := 0; i < len(got); i += 2 {
		start := time.UnixMilli(got[i]).UTC()
		assert.Equal(t, int64(15*60*1000), got[i+1]-got[i])
		assert.Contains(t, []time.Weekday{time.Sunday, time.Tuesday, time.Thursday, time.Saturday}, start.Weekday())
		if i > 0 {
			assert.Greater(t, got[i], got[i-2])
		}
	}
}

func TestValidate(t *testing.T) {
	err := Validate("RRULE:FREQ=DAILY")
	require.Error(t, err)
	assert.Regexp(t, "DTSTART is required", err.Error())

	assert.NoError(t, Validate(dailyRule))
}

func TestExpand_Errors(t *testing.T) {
	after := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	before := after.AddDate(0, 1, 0)

	tests := []struct {
		name string
		req  Request
		opts Options
		kind string
	}{
		{"missing dtstart", Request{Rule: "RRULE:FREQ=DAILY;INTERVAL=x", Window: window(after, before, false)}, Options{}, KindValidation},
		{"bad interval", Request{Rule: "DTSTART:20200101T000000Z\nRRULE:FREQ=DAILY;INTERVAL=x", Window: window(after, before, false)}, Options{}, KindParse},
		{"zero interval", Request{Rule: "DTSTART:20200101T000000Z\nRRULE:FREQ=DAILY;INTERVAL=0", Window: window(after, before, false)}, Options{}, KindValidation},
		{"overflow", Request{Rule: "DTSTART:20200101T000000Z\nRRULE:FREQ=MINUTELY", Window: window(after, before, false)}, Options{}, KindOverflow},
		{"small bound", Request{Rule: dailyRule, Window: window(after, before, false)}, Options{MaxIterations: 5}, KindOverflow},
		{"reversed window", Request{Rule: dailyRule, Window: window(before, after, false)}, Options{}, KindContract},
		{"negative duration", Request{Rule: dailyRule, Window: window(after, before, false), DurationMinutes: -1}, Options{}, KindContract},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.req, tt.opts)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.Equal(t, tt.kind, Kind(err))
		})
	}
}

func TestExpand_Until(t *testing.T) {
	svc, err := NewService(Options{}, 8)
	require.NoError(t, err)
	w := window(time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 2, 10, 0, 0, 0, 0, time.UTC), false)

	tests := []struct {
		name  string
		until mo.Option[time.Time]
		want  []int64
	}{
		{
			name:  "cuts inclusively",
			until: mo.Some(time.Date(2020, 2, 2, 9, 30, 0, 0, time.UTC)),
			want:  []int64{ms(2020, 2, 1, 9, 30), ms(2020, 2, 1, 10, 30), ms(2020, 2, 2, 9, 30), ms(2020, 2, 2, 10, 30)},
		},
		{
			name:  "before the window",
			until: mo.Some(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
			want:  []int64{},
		},
		{
			name:  "between occurrences",
			until: mo.Some(time.Date(2020, 2, 9, 0, 0, 0, 0, time.UTC).Add(-time.Minute)),
			want: []int64{
				ms(2020, 2, 1, 9, 30), ms(2020, 2, 1, 10, 30), ms(2020, 2, 2, 9, 30), ms(2020, 2, 2, 10, 30),
				ms(2020, 2, 3, 9, 30), ms(2020, 2, 3, 10, 30), ms(2020, 2, 4, 9, 30), ms(2020, 2, 4, 10, 30),
				ms(2020, 2, 5, 9, 30), ms(2020, 2, 5, 10, 30), ms(2020, 2, 6, 9, 30), ms(2020, 2, 6, 10, 30),
				ms(2020, 2, 7, 9, 30), ms(2020, 2, 7, 10, 30), ms(2020, 2, 8, 9, 30), ms(2020, 2, 8, 10, 30),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Rule: dailyRule, Window: w, DurationMinutes: 60, Until: tt.until}

			got, err := Expand(req, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			cached, err := svc.Expand(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cached)
		})
	}

	_, err = Expand(Request{Rule: dailyRule, Window: window(w.Before, w.After, false), Until: mo.Some(w.After)}, Options{})
	assert.ErrorIs(t, err, recurrence.ErrInvalidWindow)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, KindContract, Kind(errors.New("other")))
	assert.Equal(t, KindParse, Kind(&recurrence.ParseError{Property: "FREQ"}))
}

func TestService_CachedResultsMatch(t *testing.T) {
	svc, err := NewService(Options{}, 16)
	require.NoError(t, err)

	req := Request{
		Rule:            "DTSTART:20200101T080000Z\nRRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR;COUNT=30",
		Window:          window(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), false),
		DurationMinutes: 45,
	}

	want, err := Expand(req, Options{})
	require.NoError(t, err)

	first, err := svc.Expand(req)
	require.NoError(t, err)
	second, err := svc.Expand(req)
	require.NoError(t, err)

	assert.Equal(t, want, first)
	assert.Equal(t, want, second)
	assert.Equal(t, 1, svc.cache.Len())

	// The same rule written differently shares the entry.
	req.Rule = "rrule:count=30;byday=fr,mo,we;freq=weekly\ndtstart:20200101T080000Z"
	third, err := svc.Expand(req)
	require.NoError(t, err)
	assert.Equal(t, want, third)
	assert.Equal(t, 1, svc.cache.Len())

	// A different duration reuses the cached starts.
	req.DurationMinutes = 10
	fourth, err := svc.Expand(req)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.cache.Len())
	assert.Equal(t, fourth[0]+10*60*1000, fourth[1])
}

func TestService_CacheKeyDistinguishesWindows(t *testing.T) {
	rule, err := recurrence.Parse(dailyRule)
	require.NoError(t, err)
	after := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	a := cacheKey(rule, window(after, after.AddDate(0, 0, 1), false), 0)
	b := cacheKey(rule, window(after, after.AddDate(0, 0, 1), true), 0)
	c := cacheKey(rule, window(after, after.AddDate(0, 0, 2), false), 0)
	d := cacheKey(rule, window(after, after.AddDate(0, 0, 1), false), 10)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Equal(t, a, cacheKey(rule, window(after, after.AddDate(0, 0, 1), false), 0))
}

func TestService_NoCache(t *testing.T) {
	svc, err := NewService(Options{}, 0)
	require.NoError(t, err)
	assert.Nil(t, svc.cache)

	got, err := svc.Expand(Request{
		Rule:   dailyRule,
		Window: window(time.Date(2020, 2, 1, 9, 30, 0, 0, time.UTC), time.Date(2020, 2, 2, 9, 30, 0, 0, time.UTC), true),
	})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestService_ExpandEvent(t *testing.T) {
	svc, err := NewService(Options{}, 8)
	require.NoError(t, err)

	start := time.Date(2020, 1, 6, 22, 0, 0, 0, time.UTC)
	night := model.Event{
		UID:   "night-shift",
		Start: start,
		End:   start.Add(8 * time.Hour),
		RRule: "DTSTART:20200106T220000Z\nRRULE:FREQ=DAILY;BYDAY=MO,TU,WE,TH,FR",
	}
	w := window(time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 13, 0, 0, 0, 0, time.UTC), false)

	t.Run("weekday nights", func(t *testing.T) {
		periods, err := svc.ExpandEvent(night, w)
		require.NoError(t, err)
		require.Len(t, periods, 5)
		for _, p := range periods {
			assert.Equal(t, 8*time.Hour, p.End.Sub(p.Start))
			assert.Equal(t, 22, p.Start.Hour())
		}
	})

	t.Run("event until is inclusive", func(t *testing.T) {
		ev := night
		ev.Until = mo.Some(time.Date(2020, 1, 8, 22, 0, 0, 0, time.UTC))
		periods, err := svc.ExpandEvent(ev, w)
		require.NoError(t, err)
		require.Len(t, periods, 3)
		assert.True(t, periods[2].Start.Equal(ev.Until.MustGet()))
	})

	t.Run("event until before window", func(t *testing.T) {
		ev := night
		ev.Until = mo.Some(time.Date(2019, 12, 1, 0, 0, 0, 0, time.UTC))
		periods, err := svc.ExpandEvent(ev, w)
		require.NoError(t, err)
		assert.Empty(t, periods)
	})

	t.Run("single event", func(t *testing.T) {
		ev := night
		ev.RRule = ""
		periods, err := svc.ExpandEvent(ev, w)
		require.NoError(t, err)
		require.Len(t, periods, 1)
		assert.True(t, periods[0].Start.Equal(start))

		ev.Start = ev.Start.AddDate(0, 1, 0)
		ev.End = ev.End.AddDate(0, 1, 0)
		periods, err = svc.ExpandEvent(ev, w)
		require.NoError(t, err)
		assert.Empty(t, periods)
	})

	t.Run("end before start", func(t *testing.T) {
		ev := night
		ev.End = ev.Start.Add(-time.Minute)
		_, err := svc.ExpandEvent(ev, w)
		assert.ErrorIs(t, err, recurrence.ErrNegativeDuration)
	})

	t.Run("invalid rule", func(t *testing.T) {
		ev := night
		ev.RRule = "RRULE:FREQ=DAILY"
		_, err := svc.ExpandEvent(ev, w)
		assert.ErrorIs(t, err, recurrence.ErrDTStartRequired)
	})
}

func TestService_ExpandRule(t *testing.T) {
	svc, err := NewService(Options{MaxIterations: 3}, 8)
	require.NoError(t, err)

	rule := recurrence.Rule{
		DTStart:   mo.Some(time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC)),
		Freq:      recurrence.Daily,
		Interval:  1,
		WeekStart: time.Monday,
	}
	w := window(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC), false)

	periods, err := svc.ExpandRule(rule, w, time.Hour)
	require.NoError(t, err)
	assert.Len(t, periods, 2)

	w.Before = w.Before.AddDate(0, 0, 5)
	_, err = svc.ExpandRule(rule, w, time.Hour)
	assert.ErrorIs(t, err, recurrence.ErrExpansionOverflow)
}
