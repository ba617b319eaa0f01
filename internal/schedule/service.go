package schedule

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	appLog "passroster/internal/log"
	"passroster/internal/metrics"
	"passroster/internal/model"
	"passroster/internal/recurrence"
)

// Service expands rules with an in-memory LRU of recent results. It is
// safe for concurrent use.
type Service struct {
	opts  Options
	cache *lru.Cache[string, []time.Time] // nil when caching is disabled
}

// NewService returns a Service caching up to cacheSize expansions.
// cacheSize <= 0 disables the cache.
func NewService(opts Options, cacheSize int) (*Service, error) {
	s := &Service{opts: opts}
	if cacheSize > 0 {
		c, err := lru.New[string, []time.Time](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("schedule: cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

// Expand is the cached variant of the package level Expand.
func (s *Service) Expand(req Request) ([]int64, error) {
	if req.DurationMinutes < 0 {
		return nil, recurrence.ErrNegativeDuration
	}
	rule, err := parse(req.Rule)
	if err != nil {
		metrics.CountExpansion(Kind(err))
		return nil, err
	}
	w, ok, err := clampUntil(req.Window, req.Until)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []int64{}, nil
	}
	starts, err := s.starts(rule, w)
	if err != nil {
		return nil, err
	}
	return flatten(starts, req.DurationMinutes)
}

// ExpandRule expands an already structured rule and pairs each start
// with d.
func (s *Service) ExpandRule(rule recurrence.Rule, w recurrence.Window, d time.Duration) ([]recurrence.Period, error) {
	if d < 0 {
		return nil, recurrence.ErrNegativeDuration
	}
	starts, err := s.starts(rule, w)
	if err != nil {
		return nil, err
	}
	return recurrence.Pair(starts, d)
}

// ExpandEvent expands ev inside w. The duration is End-Start. An event
// level Until earlier than the window end replaces it as an inclusive
// bound. Events without a rule yield their single period when its start
// lies in the window.
func (s *Service) ExpandEvent(ev model.Event, w recurrence.Window) ([]recurrence.Period, error) {
	w, ok, err := clampUntil(w, ev.Until)
	if err != nil {
		return nil, err
	}
	d := ev.Duration()
	if d < 0 {
		return nil, recurrence.ErrNegativeDuration
	}
	if !ok {
		return []recurrence.Period{}, nil
	}

	if ev.RRule == "" {
		if !w.Contains(ev.Start) {
			return []recurrence.Period{}, nil
		}
		return recurrence.Pair([]time.Time{ev.Start.UTC()}, d)
	}

	rule, err := parse(ev.RRule)
	if err != nil {
		return nil, err
	}
	return s.ExpandRule(rule, w, d)
}

func (s *Service) starts(rule recurrence.Rule, w recurrence.Window) ([]time.Time, error) {
	var key string
	if s.cache != nil {
		key = cacheKey(rule, w, s.opts.MaxIterations)
		if starts, ok := s.cache.Get(key); ok {
			metrics.CacheHit()
			return starts, nil
		}
		metrics.CacheMiss()
	}

	begin := time.Now()
	starts, err := recurrence.ExpandWithOptions(rule, w, s.opts.expand())
	if err != nil {
		metrics.ObserveExpansion(Kind(err), begin)
		if Kind(err) == KindOverflow {
			appLog.Warn("expansion overflow", "rule", rule.String(), "after", w.After, "before", w.Before)
		}
		return nil, err
	}
	metrics.ObserveExpansion("ok", begin)

	if s.cache != nil {
		s.cache.Add(key, starts)
	}
	return starts, nil
}

// cacheKey hashes the canonical rule together with the window. The
// canonical text drops sub-second precision, so the exact instants are
// hashed too.
func cacheKey(rule recurrence.Rule, w recurrence.Window, maxIterations int) string {
	h := sha256.New()
	h.Write([]byte(rule.String()))

	var buf [8]byte
	put := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	for _, t := range []time.Time{rule.DTStart.OrEmpty(), rule.Until.OrEmpty(), w.After, w.Before} {
		put(t.Unix())
		put(int64(t.Nanosecond()))
	}
	put(int64(maxIterations))
	if w.Inclusive {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
