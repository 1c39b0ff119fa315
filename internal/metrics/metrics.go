// Package metrics exposes the pipeline's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"content-threat-detection/internal/detector"
)

// Collector bundles every metric the pipeline emits. Constructed once and
// injected; registration happens against the registry passed to New so
// tests can use isolated registries.
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	ThreatsTotal    *prometheus.CounterVec
	BlockedTotal    prometheus.Counter
	DetectionTime   prometheus.Histogram
	CacheHitsTotal  prometheus.Counter
	CacheMissTotal  prometheus.Counter
	BatchesTotal    *prometheus.CounterVec
	BatchSize       prometheus.Histogram
	BatchDuration   prometheus.Histogram
	WorkersBusy     prometheus.Gauge
	BacklogDepth    prometheus.Gauge
	JobsActive      prometheus.Gauge
	LearningDropped prometheus.Counter
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detection_requests_total",
			Help: "Detection requests processed, by outcome.",
		}, []string{"outcome"}),
		ThreatsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detection_threats_total",
			Help: "Threats detected, by category and severity.",
		}, []string{"category", "severity"}),
		BlockedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detection_blocked_total",
			Help: "Requests whose verdict was should-block.",
		}),
		DetectionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "detection_duration_seconds",
			Help:    "Single detection latency.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detection_cache_hits_total",
			Help: "Pattern cache hits.",
		}),
		CacheMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detection_cache_misses_total",
			Help: "Pattern cache misses.",
		}),
		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detection_batches_total",
			Help: "Batches processed, by terminal status.",
		}, []string{"status"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "detection_batch_size",
			Help:    "Requests per batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "detection_batch_duration_seconds",
			Help:    "Whole-batch processing time.",
			Buckets: prometheus.ExponentialBuckets(.005, 3, 10),
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "detection_workers_busy",
			Help: "Workers currently processing a task.",
		}),
		BacklogDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "detection_backlog_depth",
			Help: "Tasks waiting in the worker pool backlog.",
		}),
		JobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "detection_async_jobs_active",
			Help: "Async batch jobs in queued or processing state.",
		}),
		LearningDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detection_learning_dropped_total",
			Help: "Learning notifications dropped because the queue was full.",
		}),
	}

	reg.MustRegister(
		c.RequestsTotal, c.ThreatsTotal, c.BlockedTotal, c.DetectionTime,
		c.CacheHitsTotal, c.CacheMissTotal,
		c.BatchesTotal, c.BatchSize, c.BatchDuration,
		c.WorkersBusy, c.BacklogDepth, c.JobsActive,
		c.LearningDropped,
	)
	return c
}

// ObserveResult records the per-request metrics for one detection outcome.
func (c *Collector) ObserveResult(res *detector.DetectionResult) {
	outcome := "clean"
	switch {
	case res.Error != "":
		outcome = "error"
	case res.Detected:
		outcome = "detected"
	}
	c.RequestsTotal.WithLabelValues(outcome).Inc()
	if res.ShouldBlock {
		c.BlockedTotal.Inc()
	}
	for _, t := range res.Threats {
		c.ThreatsTotal.WithLabelValues(t.Category, string(t.Severity)).Inc()
	}
	c.DetectionTime.Observe(res.DetectionTimeMs / 1000.0)
}
