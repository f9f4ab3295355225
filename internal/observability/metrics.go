package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	assignments     *prometheus.CounterVec
	checks          *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	lowStock        prometheus.Counter
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_fulfillment_assignments_total",
		Help: "Hasil penugasan cabang per pesanan.",
	}, []string{"outcome"})
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_fulfillment_branch_checks_total",
		Help: "Hasil pemeriksaan stok per cabang kandidat.",
	}, []string{"result"})
	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_fulfillment_compensations_total",
		Help: "Pelepasan reservasi parsial berdasarkan hasil.",
	}, []string{"result"})
	lowStock := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_inventory_low_stock_total",
		Help: "Jumlah mutasi yang meninggalkan stok di bawah batas minimum.",
	})
	registry.MustRegister(requests, duration, assignments, checks, compensations, lowStock)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		assignments:     assignments,
		checks:          checks,
		compensations:   compensations,
		lowStock:        lowStock,
	}
}

// ObserveAssignment mencatat hasil satu penugasan cabang.
func (m *Metrics) ObserveAssignment(outcome string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(outcome).Inc()
}

// ObserveCheck mencatat hasil pemeriksaan satu cabang.
func (m *Metrics) ObserveCheck(result string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(result).Inc()
}

// ObserveCompensation mencatat hasil pelepasan reservasi.
func (m *Metrics) ObserveCompensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}

// ObserveLowStock menambah penghitung stok rendah.
func (m *Metrics) ObserveLowStock() {
	if m == nil {
		return
	}
	m.lowStock.Inc()
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
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

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
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

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
