package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/mo"

	"passroster/internal/config"
	"passroster/internal/ics"
	appLog "passroster/internal/log"
	"passroster/internal/metrics"
	"passroster/internal/model"
	"passroster/internal/recurrence"
	"passroster/internal/schedule"
)

const (
	maxRequestBytes   = 1 << 20
	defaultWindowDays = 7
)

// Server provides the HTTP API over the expansion service and the feed
// store.
type Server struct {
	cfg    *config.Config
	svc    *schedule.Service
	store  *ics.Store // nil when no feeds are configured
	router chi.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc *schedule.Service, store *ics.Store) *Server {
	s := &Server{cfg: cfg, svc: svc, store: store}
	s.router = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/validate", s.handleValidate)
		r.Post("/expand", s.handleExpand)
		r.Get("/occurrences", s.handleOccurrences)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type validateRequest struct {
	Rule string `json:"rule"`
}

// validateResponse carries a nil Error for a valid rule.
type validateResponse struct {
	Error *string `json:"error"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), schedule.KindContract)
		return
	}

	var resp validateResponse
	if err := schedule.Validate(req.Rule); err != nil {
		msg := err.Error()
		resp.Error = &msg
	}
	writeJSON(w, http.StatusOK, resp)
}

// expandRequest carries either a rule with duration_minutes or an event
// with start and end, whose difference is the duration. until is an
// optional inclusive cutoff in both forms.
type expandRequest struct {
	Rule            string         `json:"rule"`
	After           *model.Instant `json:"after"`
	Before          *model.Instant `json:"before"`
	Inclusive       bool           `json:"inclusive"`
	DurationMinutes int            `json:"duration_minutes"`
	Start           *model.Instant `json:"start"`
	End             *model.Instant `json:"end"`
	Until           *model.Instant `json:"until"`
}

func (r expandRequest) until() mo.Option[time.Time] {
	if r.Until == nil {
		return mo.None[time.Time]()
	}
	return mo.Some(r.Until.Time())
}

type expandResponse struct {
	Occurrences []int64 `json:"occurrences"`
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req expandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), schedule.KindContract)
		return
	}
	if req.After == nil || req.Before == nil {
		writeError(w, http.StatusBadRequest, "after and before are required", schedule.KindContract)
		return
	}
	window := recurrence.Window{
		After:     req.After.Time(),
		Before:    req.Before.Time(),
		Inclusive: req.Inclusive,
	}

	var (
		occ []int64
		err error
	)
	switch {
	case req.Start == nil && req.End == nil:
		occ, err = s.svc.Expand(schedule.Request{
			Rule:            req.Rule,
			Window:          window,
			DurationMinutes: req.DurationMinutes,
			Until:           req.until(),
		})
	case req.Start == nil || req.End == nil:
		writeError(w, http.StatusBadRequest, "start and end must be given together", schedule.KindContract)
		return
	case req.DurationMinutes != 0:
		writeError(w, http.StatusBadRequest, "duration_minutes cannot be combined with start and end", schedule.KindContract)
		return
	default:
		var periods []recurrence.Period
		periods, err = s.svc.ExpandEvent(model.Event{
			Start: req.Start.Time(),
			End:   req.End.Time(),
			RRule: req.Rule,
			Until: req.until(),
		}, window)
		occ = recurrence.Flatten(periods)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), schedule.Kind(err))
		return
	}
	writeJSON(w, http.StatusOK, expandResponse{Occurrences: occ})
}

// occurrencesResponse is the JSON response shape for /api/occurrences.
type occurrencesResponse struct {
	Occurrences []occurrenceDTO `json:"occurrences"`
	FailedUIDs  []string        `json:"failed_uids,omitempty"`
	After       time.Time       `json:"after"`
	Before      time.Time       `json:"before"`
	RefreshedAt *time.Time      `json:"refreshed_at,omitempty"`
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	SourceID    string    `json:"source_id"`
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// handleOccurrences expands the configured feeds.
//
// GET /api/occurrences?after=...&before=...&inclusive=true
//   - after:  epoch ms or RFC 3339, default now
//   - before: epoch ms or RFC 3339, default after + 7 days
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	after := time.Now().UTC()
	if v := q.Get("after"); v != "" {
		inst, err := model.ParseInstant(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after: "+err.Error(), schedule.KindContract)
			return
		}
		after = inst.Time()
	}
	before := after.AddDate(0, 0, defaultWindowDays)
	if v := q.Get("before"); v != "" {
		inst, err := model.ParseInstant(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before: "+err.Error(), schedule.KindContract)
			return
		}
		before = inst.Time()
	}
	inclusive, _ := strconv.ParseBool(q.Get("inclusive"))

	resp := occurrencesResponse{
		Occurrences: []occurrenceDTO{},
		After:       after,
		Before:      before,
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res, err := ics.ExpandOccurrences(s.svc, s.store.Events(), recurrence.Window{
		After:     after,
		Before:    before,
		Inclusive: inclusive,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), schedule.Kind(err))
		return
	}

	for _, occ := range res.Occurrences {
		resp.Occurrences = append(resp.Occurrences, occurrenceDTO{
			SourceID:    occ.SourceID,
			UID:         occ.UID,
			InstanceKey: occ.InstanceKey,
			Summary:     occ.Summary,
			Description: occ.Description,
			Location:    occ.Location,
			AllDay:      occ.AllDay,
			Start:       occ.Start,
			End:         occ.End,
		})
	}
	resp.FailedUIDs = res.FailedUIDs
	if t := s.store.RefreshedAt(); !t.IsZero() {
		resp.RefreshedAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	type errResp struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	writeJSON(w, status, errResp{Error: msg, Kind: kind})
}
