package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/studio-ops-api/internal/models"
)

// Booking outcomes recorded by MetricsService.RecordBooking.
const (
	BookingResultBooked   = "booked"
	BookingResultFull     = "full"
	BookingResultReleased = "released"
	BookingResultRejected = "rejected"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic,
// the calendar cache and scheduling operations.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheLookups    *prometheus.CounterVec

	instancesCreated prometheus.Counter
	scopedMutations  *prometheus.CounterVec
	scopedRows       *prometheus.HistogramVec
	bookings         *prometheus.CounterVec
	rosterConflicts  prometheus.Counter
	notifications    *prometheus.CounterVec
}

// NewMetricsService registers collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calendar_cache_latency_seconds",
			Help:    "Latency for calendar cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar_cache_lookups_total",
			Help: "Calendar cache lookups by result",
		}, []string{"result"}),
		instancesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "class_instances_created_total",
			Help: "Class instances created, including recurring expansions",
		}),
		scopedMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "class_scoped_mutations_total",
			Help: "Scoped class edits and deletes",
		}, []string{"operation", "scope"}),
		scopedRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "class_scoped_mutation_rows",
			Help:    "Rows touched per scoped edit or delete",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}, []string{"operation"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drop_in_bookings_total",
			Help: "Drop-in booking attempts by result",
		}, []string{"result"}),
		rosterConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roster_conflicts_total",
			Help: "Roster removals blocked by recorded attendance",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification events by kind and delivery result",
		}, []string{"kind", "result"}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration, m.requestTotal, m.cacheLatency, m.cacheLookups,
		m.instancesCreated, m.scopedMutations, m.scopedRows, m.bookings, m.rosterConflicts, m.notifications,
		goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// RecordInstancesCreated counts rows produced by a create.
func (m *MetricsService) RecordInstancesCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.instancesCreated.Add(float64(n))
}

// RecordScopedMutation counts a scoped edit or delete and the rows it touched.
func (m *MetricsService) RecordScopedMutation(operation string, scope models.Scope, rows int) {
	if m == nil {
		return
	}
	m.scopedMutations.WithLabelValues(operation, string(scope)).Inc()
	m.scopedRows.WithLabelValues(operation).Observe(float64(rows))
}

// RecordBooking counts a drop-in booking outcome.
func (m *MetricsService) RecordBooking(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

// RecordRosterConflicts counts blocked roster removals.
func (m *MetricsService) RecordRosterConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rosterConflicts.Add(float64(n))
}

// RecordNotification counts a notification delivery outcome.
func (m *MetricsService) RecordNotification(kind models.NotificationKind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(kind), result).Inc()
}
