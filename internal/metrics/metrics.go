package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passroster_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "passroster_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	expansionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passroster_expansions_total",
		Help: "Recurrence expansions by outcome.",
	}, []string{"outcome"})

	expansionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "passroster_expansion_duration_seconds",
		Help:    "Histogram of uncached expansion latencies.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passroster_expansion_cache_lookups_total",
		Help: "Expansion cache lookups by result.",
	}, []string{"result"})

	feedRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passroster_feed_refresh_total",
		Help: "Feed refreshes by feed and outcome.",
	}, []string{"feed", "outcome"})

	feedEvents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "passroster_feed_events",
		Help: "Events held per feed after the last refresh.",
	}, []string{"feed"})
)

// Middleware records request metrics per chi route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			// The pattern is only complete once routing has finished.
			route := routePattern(r)
			status := strconv.Itoa(ww.Status())
			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExpansion records one uncached expansion. outcome is "ok" or an
// error kind.
func ObserveExpansion(outcome string, start time.Time) {
	expansionsTotal.WithLabelValues(outcome).Inc()
	expansionDuration.Observe(time.Since(start).Seconds())
}

// CountExpansion records an expansion rejected before any work was done,
// without a latency sample.
func CountExpansion(outcome string) {
	expansionsTotal.WithLabelValues(outcome).Inc()
}

func CacheHit()  { cacheLookups.WithLabelValues("hit").Inc() }
func CacheMiss() { cacheLookups.WithLabelValues("miss").Inc() }

// ObserveFeedRefresh records a refresh of one feed.
func ObserveFeedRefresh(feed string, events int, err error) {
	if err != nil {
		feedRefreshTotal.WithLabelValues(feed, "error").Inc()
		return
	}
	feedRefreshTotal.WithLabelValues(feed, "ok").Inc()
	feedEvents.WithLabelValues(feed).Set(float64(events))
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
