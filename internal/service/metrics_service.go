package service

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/lms-api/internal/models"
)

const metricsNamespace = "lms"

// MetricsService owns the Prometheus registry of the API and keeps running
// totals so the analytics report can show live system figures.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	cacheDuration *prometheus.HistogramVec
	reportQueries *prometheus.HistogramVec
	mailDelivery  *prometheus.CounterVec

	hits, misses        atomic.Uint64
	requests, requestNs atomic.Uint64
	queries, queryNs    atomic.Uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	m := &MetricsService{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route template and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route template.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by keyspace and result.",
		}, []string{"keyspace", "result"}),
		cacheDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "operation_duration_seconds",
			Help:      "Redis round trips by operation.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"op"}),
		reportQueries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "reports",
			Name:      "build_duration_seconds",
			Help:      "Time spent querying Postgres for dashboard and analytics reports.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"report"}),
		mailDelivery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "mail",
			Name:      "deliveries_total",
			Help:      "Transactional mail deliveries by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.httpRequests, m.httpDuration,
		m.cacheLookups, m.cacheDuration,
		m.reportQueries, m.mailDelivery,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	m.requests.Add(1)
	m.requestNs.Add(uint64(duration.Nanoseconds()))
}

// RecordCacheLookup records a cache read. The keyspace is the key prefix
// before the first colon, so dash:teacher:t1 counts as "dash".
func (m *MetricsService) RecordCacheLookup(key string, hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	m.cacheLookups.WithLabelValues(keyspace(key), result).Inc()
	m.cacheDuration.WithLabelValues("get").Observe(duration.Seconds())
}

// ObserveCacheWrite records a cache write or invalidation round trip.
func (m *MetricsService) ObserveCacheWrite(op string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveDBQuery records how long a report took to assemble from Postgres.
func (m *MetricsService) ObserveDBQuery(report string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reportQueries.WithLabelValues(report).Observe(duration.Seconds())
	m.queries.Add(1)
	m.queryNs.Add(uint64(duration.Nanoseconds()))
}

// RecordMailDelivery counts a mail job outcome.
func (m *MetricsService) RecordMailDelivery(err error) {
	if m == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.mailDelivery.WithLabelValues(outcome).Inc()
}

// Snapshot returns the live figures shown in the analytics report.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits, misses := m.hits.Load(), m.misses.Load()
	requests, queries := m.requests.Load(), m.queries.Load()

	snap := models.SystemMetrics{
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		DBQueryCount:             queries,
		AverageRequestDurationMs: averageMillis(m.requestNs.Load(), requests),
		AverageDBQueryDurationMs: averageMillis(m.queryNs.Load(), queries),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
	if lookups := hits + misses; lookups > 0 {
		snap.CacheHitRatio = float64(hits) / float64(lookups)
	}
	return snap
}

func averageMillis(totalNs, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return float64(totalNs) / float64(count) / float64(time.Millisecond)
}

func keyspace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
