package ics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "passroster/internal/log"
	"passroster/internal/metrics"
	"passroster/internal/model"
)

// Store keeps the parsed events of every feed and refreshes them on a
// cron schedule. A feed that fails to refresh keeps its previous events.
type Store struct {
	fetcher *Fetcher
	sources []Source
	parser  cron.Parser

	mu        sync.RWMutex
	events    map[string][]model.Event
	refreshed time.Time

	c *cron.Cron
}

// NewStore returns an empty Store for sources.
func NewStore(fetcher *Fetcher, sources []Source) *Store {
	return &Store{
		fetcher: fetcher,
		sources: sources,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		events:  make(map[string][]model.Event),
	}
}

// Refresh fetches and parses every feed once.
func (s *Store) Refresh(ctx context.Context) error {
	var errs []error
	for _, src := range s.sources {
		events, err := s.refreshOne(ctx, src)
		metrics.ObserveFeedRefresh(src.ID, len(events), err)
		if err != nil {
			appLog.Error("feed refresh failed", err, "id", src.ID, "url", redactURL(src.URL))
			errs = append(errs, err)
			continue
		}

		s.mu.Lock()
		s.events[src.ID] = events
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.refreshed = time.Now()
	s.mu.Unlock()
	return errors.Join(errs...)
}

func (s *Store) refreshOne(ctx context.Context, src Source) ([]model.Event, error) {
	res, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	return Parse(src, res.Body)
}

// Events returns the events of all feeds, in source order.
func (s *Store) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Event
	for _, src := range s.sources {
		out = append(out, s.events[src.ID]...)
	}
	return out
}

// RefreshedAt returns the time of the last completed Refresh.
func (s *Store) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed
}

// Start schedules Refresh on spec (standard five field cron syntax or a
// descriptor such as "@hourly") until Stop or ctx is done.
func (s *Store) Start(ctx context.Context, spec string) error {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("ics: refresh schedule %q: %w", spec, err)
	}

	s.c = cron.New(cron.WithParser(s.parser))
	s.c.Schedule(sched, cron.FuncJob(func() {
		if err := s.Refresh(ctx); err != nil {
			appLog.Warn("scheduled refresh incomplete", "err", err)
		}
	}))
	s.c.Start()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	appLog.Info("feed refresh scheduled", "spec", spec, "feeds", len(s.sources))
	return nil
}

// Stop halts scheduled refreshes and waits for a running one to finish.
func (s *Store) Stop() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
}
