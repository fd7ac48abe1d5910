package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ivdimova/inbox-triage-assistant/stats"
)

// Metrics owns a private registry so several servers can live in one
// process.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	MessagesProcessed   *prometheus.CounterVec
	ActiveClusters      prometheus.Gauge
	MessagesArchived    prometheus.Counter
	ArchiveFailures     prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbox_triage_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inbox_triage_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
			},
			[]string{"method", "path"},
		),
		MessagesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbox_triage_messages_processed_total",
				Help: "Messages handled while building clusters, by result",
			},
			[]string{"result"}, // fetched, skipped or filtered
		),
		ActiveClusters: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inbox_triage_active_clusters",
				Help: "Clusters built by the last login",
			},
		),
		MessagesArchived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inbox_triage_messages_archived_total",
				Help: "Messages archived through cluster actions",
			},
		),
		ArchiveFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inbox_triage_archive_failures_total",
				Help: "Cluster archive attempts that failed",
			},
		),
	}
}

// Observe is a stats.Observer.
func (m *Metrics) Observe(evt stats.Event) {
	switch evt.Type {
	case stats.EventTypeFetched, stats.EventTypeSkipped, stats.EventTypeFiltered:
		m.MessagesProcessed.WithLabelValues(string(evt.Type)).Inc()
	case stats.EventTypeClustered:
		m.ActiveClusters.Set(float64(evt.Total))
	case stats.EventTypeArchived:
		m.MessagesArchived.Add(float64(evt.Total))
		m.ActiveClusters.Dec()
	case stats.EventTypeError:
		if evt.Stage == stats.StageArchive {
			m.ArchiveFailures.Inc()
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// unmatchedRoute labels requests no route matched.
const unmatchedRoute = "unmatched"

// Middleware records request counts and latency by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
