package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-substitution-api/internal/models"
)

// Substitution operation outcomes recorded by MetricsService.
const (
	outcomeSuccess  = "success"
	outcomeConflict = "conflict"
	outcomeError    = "error"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	cacheLatency      prometheus.Observer
	cacheWrite        prometheus.Observer
	cacheHitRatio     prometheus.Gauge
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	substitutionOps   *prometheus.CounterVec
	availabilityTime  prometheus.Observer
	timetableLessons  prometheus.Gauge
	timetableReloads  *prometheus.CounterVec
	absenceCascadeOps prometheus.Counter

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	assignedCount        uint64
	revokedCount         uint64
	conflictCount        uint64
	lessonCount          int64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	substitutionOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "substitution_operations_total",
		Help: "Substitution assign and revoke attempts by outcome",
	}, []string{"operation", "outcome"})

	availabilityTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "availability_resolve_seconds",
		Help:    "Time spent resolving substitute candidates",
		Buckets: prometheus.DefBuckets,
	})

	timetableLessons := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timetable_lessons",
		Help: "Lessons currently held by the timetable index",
	})

	timetableReloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_reloads_total",
		Help: "Timetable index rebuilds by outcome",
	}, []string{"outcome"})

	absenceCascadeOps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "absence_cascade_revocations_total",
		Help: "Substitutions revoked because their absence no longer covers the slot",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		substitutionOps, availabilityTime, timetableLessons, timetableReloads, absenceCascadeOps, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		substitutionOps:   substitutionOps,
		availabilityTime:  availabilityTime,
		timetableLessons:  timetableLessons,
		timetableReloads:  timetableReloads,
		absenceCascadeOps: absenceCascadeOps,
	}
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

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordSubstitution counts an assign or revoke attempt.
func (m *MetricsService) RecordSubstitution(operation, outcome string) {
	if m == nil {
		return
	}
	m.substitutionOps.WithLabelValues(operation, outcome).Inc()
	switch {
	case outcome == outcomeConflict:
		atomic.AddUint64(&m.conflictCount, 1)
	case outcome != outcomeSuccess:
	case operation == "assign":
		atomic.AddUint64(&m.assignedCount, 1)
	case operation == "revoke":
		atomic.AddUint64(&m.revokedCount, 1)
	}
}

// RecordCascadeRevocations counts substitutions dropped by an absence change.
func (m *MetricsService) RecordCascadeRevocations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.absenceCascadeOps.Add(float64(n))
}

// ObserveAvailability records the time taken to resolve candidates.
func (m *MetricsService) ObserveAvailability(duration time.Duration) {
	if m == nil {
		return
	}
	m.availabilityTime.Observe(duration.Seconds())
}

// RecordTimetableReload records an index rebuild and the resulting size.
func (m *MetricsService) RecordTimetableReload(lessons int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.timetableReloads.WithLabelValues(outcomeError).Inc()
		return
	}
	m.timetableReloads.WithLabelValues(outcomeSuccess).Inc()
	m.timetableLessons.Set(float64(lessons))
	atomic.StoreInt64(&m.lessonCount, int64(lessons))
}

// Snapshot returns aggregated metrics for the system metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		SubstitutionsAssigned:    atomic.LoadUint64(&m.assignedCount),
		SubstitutionsRevoked:     atomic.LoadUint64(&m.revokedCount),
		SubstitutionConflicts:    atomic.LoadUint64(&m.conflictCount),
		TimetableLessons:         int(atomic.LoadInt64(&m.lessonCount)),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
