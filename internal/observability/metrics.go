package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process registry plus the HTTP and sale-commit series.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	salesCommitted  *prometheus.CounterVec
	commitFailures  *prometheus.CounterVec
	commitRetries   prometheus.Counter
	commitDuration  prometheus.Histogram
	sideEffectFails *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pos_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		salesCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_sales_committed_total",
			Help: "Sales committed by payment status.",
		}, []string{"status"}),
		commitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_sale_commit_failures_total",
			Help: "Rejected or failed sale commits by reason.",
		}, []string{"reason"}),
		commitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_sale_commit_retries_total",
			Help: "Sale commit attempts repeated after a transient storage failure.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pos_sale_commit_duration_seconds",
			Help:    "Time spent committing a sale, retries included.",
			Buckets: prometheus.DefBuckets,
		}),
		sideEffectFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_side_effect_failures_total",
			Help: "Post-commit side effects that failed, by kind.",
		}, []string{"kind"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.salesCommitted, m.commitFailures, m.commitRetries, m.commitDuration, m.sideEffectFails,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) SaleCommitted(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.salesCommitted.WithLabelValues(status).Inc()
	m.commitDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SaleFailed(reason string) {
	if m == nil {
		return
	}
	m.commitFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) CommitRetried() {
	if m == nil {
		return
	}
	m.commitRetries.Inc()
}

func (m *Metrics) SideEffectFailed(kind string) {
	if m == nil {
		return
	}
	m.sideEffectFails.WithLabelValues(kind).Inc()
}

func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming responses working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
