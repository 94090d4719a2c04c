package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics memegang registry Prometheus milik proses beserta kolektor HTTP dan lifecycle.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler
	http     httpCollectors
	life     lifecycleCollectors
}

type httpCollectors struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewMetrics membuat registry terisolasi. Kolektor runtime Go dan proses ikut didaftarkan
// sehingga /metrics tidak bergantung pada DefaultRegisterer.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{
		registry: registry,
		http:     newHTTPCollectors(registry),
		life:     newLifecycleCollectors(registry),
	}
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return m
}

func newHTTPCollectors(reg prometheus.Registerer) httpCollectors {
	c := httpCollectors{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubroster_http_requests_total",
			Help: "Permintaan HTTP per method, pola route, dan kode status.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clubroster_http_request_duration_seconds",
			Help:    "Durasi permintaan HTTP per pola route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clubroster_http_requests_in_flight",
			Help: "Permintaan HTTP yang sedang diproses.",
		}),
	}
	reg.MustRegister(c.requests, c.duration, c.inFlight)
	return c
}

// Handler melayani /metrics. Metrics nil menjawab 503.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat jumlah, durasi, dan permintaan aktif. Label route memakai pola chi
// agar kardinalitas tetap rendah.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.http.inFlight.Inc()
		defer m.http.inFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routePattern(r)
		m.http.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.http.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk kolektor tambahan.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unknown"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unmatched"
}
