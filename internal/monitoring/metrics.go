// internal/monitoring/metrics.go
package monitoring

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsManager owns the pipeline's Prometheus collectors. All Record methods
// are safe on a nil receiver so components can run without metrics.
type MetricsManager struct {
	registry *prometheus.Registry

	// Job metrics
	jobsTotal         *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobsActive        prometheus.Gauge
	jobsQueued        prometheus.Gauge
	progressSnapshots *prometheus.CounterVec

	// Fetch metrics
	fetchRequests    *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	renderEscalation *prometheus.CounterVec

	// Pipeline metrics
	candidates        *prometheus.CounterVec
	duplicatesRemoved *prometheus.CounterVec
	validatorCalls    *prometheus.CounterVec
	validatorFallback *prometheus.CounterVec
	reviewsAccepted   *prometheus.CounterVec

	// System metrics
	memoryUsage    prometheus.Gauge
	goroutineCount prometheus.Gauge
}

// MetricsConfig configuration for metrics
type MetricsConfig struct {
	Namespace string `json:"namespace"`
	Path      string `json:"path"`
}

// NewMetricsManager registers every collector on a fresh registry that also
// carries the Go and process collectors
func NewMetricsManager(config MetricsConfig) *MetricsManager {
	if config.Namespace == "" {
		config.Namespace = "reviewscrapexter"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mm := &MetricsManager{registry: registry}
	mm.initializeMetrics(promauto.With(registry), config.Namespace)
	return mm
}

func (mm *MetricsManager) initializeMetrics(factory promauto.Factory, ns string) {
	mm.jobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "jobs_total",
			Help:      "Jobs that reached a terminal state",
		},
		[]string{"source", "state"},
	)

	mm.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "job_duration_seconds",
			Help:      "Time from STARTED to a terminal state",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"source"},
	)

	mm.jobsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "jobs_active",
		Help:      "Jobs currently held by a worker",
	})

	mm.jobsQueued = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "jobs_queued",
		Help:      "Jobs waiting for a worker",
	})

	mm.progressSnapshots = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "progress_snapshots_total",
			Help:      "PROGRESS snapshots published",
		},
		[]string{"source"},
	)

	mm.fetchRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "fetch_requests_total",
			Help:      "Page and API fetches, after retries",
		},
		[]string{"host", "outcome"},
	)

	mm.fetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "fetch_duration_seconds",
			Help:      "Fetch duration including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	mm.renderEscalation = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "render_escalations_total",
			Help:      "Browser render escalations by outcome",
		},
		[]string{"outcome"},
	)

	mm.candidates = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "candidates_total",
			Help:      "Review candidates produced by adapters",
		},
		[]string{"source"},
	)

	mm.duplicatesRemoved = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "duplicates_removed_total",
			Help:      "Candidates dropped by the deduplicator",
		},
		[]string{"source", "pass"},
	)

	mm.validatorCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "validator_calls_total",
			Help:      "Language-model calls",
		},
		[]string{"op", "outcome"},
	)

	mm.validatorFallback = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "validator_fallbacks_total",
			Help:      "Batches or summaries that degraded to the local fallback",
		},
		[]string{"op"},
	)

	mm.reviewsAccepted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "reviews_accepted_total",
			Help:      "Reviews accepted by validation",
		},
		[]string{"source"},
	)

	mm.memoryUsage = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "memory_usage_bytes",
		Help:      "Heap bytes allocated",
	})

	mm.goroutineCount = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "goroutines",
		Help:      "Number of goroutines",
	})
}

// Registry exposes the underlying registry
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// RecordJobStart marks a job as held by a worker
func (mm *MetricsManager) RecordJobStart() {
	if mm == nil {
		return
	}
	mm.jobsActive.Inc()
}

// RecordJobEnd records a terminal state for a started job
func (mm *MetricsManager) RecordJobEnd(source, state string, duration time.Duration) {
	if mm == nil {
		return
	}
	mm.jobsActive.Dec()
	mm.jobsTotal.WithLabelValues(source, state).Inc()
	mm.jobDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordJobTerminal counts a job that ended without ever starting
func (mm *MetricsManager) RecordJobTerminal(source, state string) {
	if mm == nil {
		return
	}
	mm.jobsTotal.WithLabelValues(source, state).Inc()
}

// UpdateJobsQueued sets the queue depth
func (mm *MetricsManager) UpdateJobsQueued(count int) {
	if mm == nil {
		return
	}
	mm.jobsQueued.Set(float64(count))
}

// RecordSnapshot counts a published PROGRESS snapshot
func (mm *MetricsManager) RecordSnapshot(source string) {
	if mm == nil {
		return
	}
	mm.progressSnapshots.WithLabelValues(source).Inc()
}

// RecordFetch records one fetch including its retries
func (mm *MetricsManager) RecordFetch(host, outcome string, duration time.Duration) {
	if mm == nil {
		return
	}
	mm.fetchRequests.WithLabelValues(host, outcome).Inc()
	mm.fetchDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// RecordRender records a render escalation outcome: rendered, failed or limit
func (mm *MetricsManager) RecordRender(outcome string) {
	if mm == nil {
		return
	}
	mm.renderEscalation.WithLabelValues(outcome).Inc()
}

// RecordCandidates adds adapter output for a source
func (mm *MetricsManager) RecordCandidates(source string, count int) {
	if mm == nil || count <= 0 {
		return
	}
	mm.candidates.WithLabelValues(source).Add(float64(count))
}

// RecordDuplicates adds dedupe removals for a pass: exact or near
func (mm *MetricsManager) RecordDuplicates(source, pass string, count int) {
	if mm == nil || count <= 0 {
		return
	}
	mm.duplicatesRemoved.WithLabelValues(source, pass).Add(float64(count))
}

// RecordValidatorCall records a model call for op: validate or normalize
func (mm *MetricsManager) RecordValidatorCall(op, outcome string) {
	if mm == nil {
		return
	}
	mm.validatorCalls.WithLabelValues(op, outcome).Inc()
}

// RecordValidatorFallback counts a degraded validation step
func (mm *MetricsManager) RecordValidatorFallback(op string) {
	if mm == nil {
		return
	}
	mm.validatorFallback.WithLabelValues(op).Inc()
}

// RecordAccepted adds accepted reviews for a source
func (mm *MetricsManager) RecordAccepted(source string, count int) {
	if mm == nil || count <= 0 {
		return
	}
	mm.reviewsAccepted.WithLabelValues(source).Add(float64(count))
}

// UpdateSystemMetrics samples memory and goroutine gauges
func (mm *MetricsManager) UpdateSystemMetrics() {
	if mm == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mm.memoryUsage.Set(float64(m.Alloc))
	mm.goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// StartSystemMetricsCollection samples system gauges until ctx ends
func (mm *MetricsManager) StartSystemMetricsCollection(ctx context.Context, interval time.Duration) {
	if mm == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		mm.UpdateSystemMetrics()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mm.UpdateSystemMetrics()
			}
		}
	}()
}

// MetricsHandler returns an HTTP handler for the metrics endpoint
func (mm *MetricsManager) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{Registry: mm.registry})
}
