// Package batch implements the batch orchestrator: validation, cache-first
// dispatch under a bounded parallelism, aggregation, and job lifecycle for
// synchronous and asynchronous execution.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"content-threat-detection/internal/cache"
	"content-threat-detection/internal/detector"
	"content-threat-detection/internal/learning"
	"content-threat-detection/internal/metrics"
	"content-threat-detection/internal/worker"
)

// Validation errors. All of them are raised before any detection work.
var (
	ErrEmptyBatch    = errors.New("batch contains no requests")
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	ErrEmptyContent  = errors.New("request content is empty")
	ErrJobNotFound   = errors.New("batch job not found")
)

// Config holds orchestrator tuning.
type Config struct {
	MaxBatchSize       int
	DefaultParallelism int
	MaxParallelism     int
	JobTimeout         time.Duration
	JobRetention       time.Duration
	AsyncRunners       int
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:       10000,
		DefaultParallelism: 10,
		MaxParallelism:     100,
		JobTimeout:         5 * time.Minute,
		JobRetention:       time.Hour,
		AsyncRunners:       16,
	}
}

// Options are the caller-supplied knobs for one batch.
type Options struct {
	// Parallelism bounds how many of this batch's requests may be in
	// flight against the worker pool at once. Clamped to
	// [1, MaxParallelism]; zero means the configured default.
	Parallelism int

	// EnableCache toggles pattern-cache consultation and write-back.
	EnableCache bool

	// AggregateResults toggles aggregate computation on the response.
	AggregateResults bool
}

// DefaultOptions enables cache and aggregation with default parallelism.
func DefaultOptions() Options {
	return Options{EnableCache: true, AggregateResults: true}
}

// CacheInfo is the cache slice of a batch response.
type CacheInfo struct {
	Enabled bool    `json:"enabled"`
	Hits    int     `json:"hits"`
	Misses  int     `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Result is the completed-batch payload for synchronous execution.
type Result struct {
	BatchID           string                      `json:"batch_id"`
	Status            JobStatus                   `json:"status"`
	TotalRequests     int                         `json:"total_requests"`
	ProcessedRequests int                         `json:"processed_requests"`
	ProcessingTimeMs  float64                     `json:"processing_time_ms"`
	Throughput        float64                     `json:"throughput_rps"`
	Results           []*detector.DetectionResult `json:"results"`
	Aggregates        *Aggregates                 `json:"aggregates,omitempty"`
	Cache             CacheInfo                   `json:"cache"`
}

// ProcessStats are process-wide counters across all batches. Reset only via
// ResetStats, never implicitly.
type ProcessStats struct {
	TotalBatches       int64   `json:"total_batches"`
	TotalRequests      int64   `json:"total_requests"`
	Succeeded          int64   `json:"succeeded"`
	Failed             int64   `json:"failed"`
	AvgBatchSize       float64 `json:"avg_batch_size"`
	AvgBatchTimeMs     float64 `json:"avg_batch_time_ms"`
	ActiveJobs         int     `json:"active_jobs"`
	WorkerPoolSize     int     `json:"worker_pool_size"`
	WorkerBacklogDepth int     `json:"worker_backlog_depth"`
}

// Orchestrator multiplexes batch calls onto a shared worker pool with a
// content-addressed cache in front.
type Orchestrator struct {
	cfg       Config
	cache     *cache.PatternCache
	pool      *worker.Pool
	collector *metrics.Collector
	notifier  *learning.Notifier
	logger    *logrus.Logger
	runner    *ants.Pool

	jobsMu sync.RWMutex
	jobs   map[string]*Job

	// inflight collapses concurrent detections of identical content so a
	// distinct content value is computed at most once at any instant.
	inflight singleflight.Group

	statsMu          sync.Mutex
	totalBatches     int64
	totalRequests    int64
	succeeded        int64
	failed           int64
	totalBatchTimeMs float64
}

// New wires an orchestrator. The notifier may be nil.
func New(cfg Config, patternCache *cache.PatternCache, pool *worker.Pool, collector *metrics.Collector, notifier *learning.Notifier, logger *logrus.Logger) (*Orchestrator, error) {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if cfg.DefaultParallelism <= 0 {
		cfg.DefaultParallelism = DefaultConfig().DefaultParallelism
	}
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = DefaultConfig().MaxParallelism
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = DefaultConfig().JobRetention
	}
	if cfg.AsyncRunners <= 0 {
		cfg.AsyncRunners = DefaultConfig().AsyncRunners
	}

	runner, err := ants.NewPool(cfg.AsyncRunners, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("creating async runner pool: %w", err)
	}

	return &Orchestrator{
		cfg:       cfg,
		cache:     patternCache,
		pool:      pool,
		collector: collector,
		notifier:  notifier,
		logger:    logger,
		runner:    runner,
		jobs:      make(map[string]*Job),
	}, nil
}

// ProcessBatch runs a batch synchronously: it blocks until every request
// resolves, then returns the full result set.
func (o *Orchestrator) ProcessBatch(ctx context.Context, requests []detector.DetectionRequest, opts Options) (*Result, error) {
	if err := o.validate(requests); err != nil {
		return nil, err
	}
	requests = assignIDs(requests)

	batchID := uuid.NewString()
	start := time.Now()

	results, hits, misses := o.dispatch(ctx, requests, opts, nil)
	elapsed := time.Since(start)

	res := &Result{
		BatchID:           batchID,
		Status:            StatusCompleted,
		TotalRequests:     len(requests),
		ProcessedRequests: len(results),
		ProcessingTimeMs:  float64(elapsed.Microseconds()) / 1000.0,
		Throughput:        throughput(len(results), elapsed),
		Results:           results,
		Cache: CacheInfo{
			Enabled: opts.EnableCache,
			Hits:    hits,
			Misses:  misses,
		},
	}
	if total := hits + misses; total > 0 {
		res.Cache.HitRate = float64(hits) / float64(total)
	}
	if opts.AggregateResults {
		res.Aggregates = computeAggregates(results, hits, misses)
	}

	o.recordBatch(len(requests), results, elapsed, StatusCompleted)
	o.logger.WithFields(logrus.Fields{
		"batch_id":       batchID,
		"requests":       len(requests),
		"cache_hits":     hits,
		"duration_ms":    res.ProcessingTimeMs,
		"throughput_rps": res.Throughput,
	}).Info("Batch completed")

	return res, nil
}

// SubmitAsync validates a batch, creates a queued job and schedules it on
// the runner pool. Returns the job identifier immediately.
func (o *Orchestrator) SubmitAsync(requests []detector.DetectionRequest, opts Options) (string, error) {
	if err := o.validate(requests); err != nil {
		return "", err
	}
	requests = assignIDs(requests)

	batchID := uuid.NewString()
	job := newJob(batchID, requests)

	o.jobsMu.Lock()
	o.jobs[batchID] = job
	o.jobsMu.Unlock()
	if o.collector != nil {
		o.collector.JobsActive.Inc()
	}

	if err := o.runner.Submit(func() { o.runJob(job, opts) }); err != nil {
		job.fail(fmt.Sprintf("scheduling job: %v", err))
		if o.collector != nil {
			o.collector.JobsActive.Dec()
		}
		return batchID, nil
	}

	o.logger.WithFields(logrus.Fields{
		"batch_id": batchID,
		"requests": len(requests),
	}).Info("Batch job queued")
	return batchID, nil
}

// JobStatus returns a point-in-time snapshot of an async job.
func (o *Orchestrator) JobStatus(batchID string) (Snapshot, error) {
	o.jobsMu.RLock()
	job, ok := o.jobs[batchID]
	o.jobsMu.RUnlock()
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return job.snapshot(), nil
}

// CleanupJobs removes terminal jobs that finished before now-olderThan and
// returns how many were dropped. Zero means the configured retention.
func (o *Orchestrator) CleanupJobs(olderThan time.Duration) int {
	if olderThan <= 0 {
		olderThan = o.cfg.JobRetention
	}
	cutoff := time.Now().Add(-olderThan)

	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()

	removed := 0
	for id, job := range o.jobs {
		if job.finishedBefore(cutoff) {
			delete(o.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		o.logger.WithField("removed", removed).Info("Cleaned up expired batch jobs")
	}
	return removed
}

// ClearCache drops every cached detection result.
func (o *Orchestrator) ClearCache() {
	o.cache.Clear()
	o.logger.Info("Pattern cache cleared")
}

// CacheStats exposes the underlying cache counters.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.cache.Stats()
}

// WorkerStats exposes the per-worker counters.
func (o *Orchestrator) WorkerStats() []worker.Stats {
	return o.pool.Stats()
}

// Stats returns the process-wide counters.
func (o *Orchestrator) Stats() ProcessStats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()

	stats := ProcessStats{
		TotalBatches:       o.totalBatches,
		TotalRequests:      o.totalRequests,
		Succeeded:          o.succeeded,
		Failed:             o.failed,
		WorkerPoolSize:     o.pool.Size(),
		WorkerBacklogDepth: o.pool.QueueDepth(),
	}
	if o.totalBatches > 0 {
		stats.AvgBatchSize = float64(o.totalRequests) / float64(o.totalBatches)
		stats.AvgBatchTimeMs = o.totalBatchTimeMs / float64(o.totalBatches)
	}

	o.jobsMu.RLock()
	for _, job := range o.jobs {
		if snap := job.snapshot(); !snap.Status.terminal() {
			stats.ActiveJobs++
		}
	}
	o.jobsMu.RUnlock()
	return stats
}

// ResetStats zeroes the process-wide counters. Explicit only.
func (o *Orchestrator) ResetStats() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.totalBatches = 0
	o.totalRequests = 0
	o.succeeded = 0
	o.failed = 0
	o.totalBatchTimeMs = 0
}

// Close stops the async runner pool. In-flight jobs finish first.
func (o *Orchestrator) Close() {
	o.runner.Release()
}

// runJob executes one async job under the wall-clock deadline.
func (o *Orchestrator) runJob(job *Job, opts Options) {
	defer func() {
		if r := recover(); r != nil {
			job.fail(fmt.Sprintf("orchestration panic: %v", r))
			o.logger.WithFields(logrus.Fields{
				"batch_id": job.batchID,
				"panic":    fmt.Sprintf("%v", r),
			}).Error("Batch job panicked")
		}
		if o.collector != nil {
			o.collector.JobsActive.Dec()
		}
	}()

	if !job.markProcessing() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan struct{})
	var results []*detector.DetectionResult
	var hits, misses int

	go func() {
		defer close(done)
		results, hits, misses = o.dispatch(ctx, job.requests, opts, job)
	}()

	select {
	case <-done:
		aggregates := computeAggregates(results, hits, misses)
		if job.complete(results, aggregates) {
			o.recordBatch(len(job.requests), results, time.Since(start), StatusCompleted)
			o.logger.WithFields(logrus.Fields{
				"batch_id":    job.batchID,
				"requests":    len(job.requests),
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("Batch job completed")
		}
	case <-ctx.Done():
		// In-flight requests still complete inside the pool; their
		// results are discarded from this job's perspective.
		if job.timeout() {
			o.recordBatch(len(job.requests), nil, time.Since(start), StatusTimeout)
			o.logger.WithFields(logrus.Fields{
				"batch_id": job.batchID,
				"deadline": o.cfg.JobTimeout,
			}).Warn("Batch job timed out")
		}
	}
}

// dispatch runs the core algorithm: cache first, worker pool on miss,
// bounded by the batch parallelism. Results are indexed by their original
// request position so output order always matches input order.
func (o *Orchestrator) dispatch(ctx context.Context, requests []detector.DetectionRequest, opts Options, job *Job) ([]*detector.DetectionResult, int, int) {
	parallelism := o.clampParallelism(opts.Parallelism)
	sem := semaphore.NewWeighted(int64(parallelism))

	results := make([]*detector.DetectionResult, len(requests))
	var hits, misses atomic.Int64
	var wg sync.WaitGroup

	for i := range requests {
		req := &requests[i]

		if opts.EnableCache {
			if cached, ok := o.cache.Get(req.Content); ok {
				cached.RequestID = req.ID
				results[i] = cached
				hits.Add(1)
				if o.collector != nil {
					o.collector.CacheHitsTotal.Inc()
				}
				if job != nil {
					job.recordResult(false)
				}
				continue
			}
			if o.collector != nil {
				o.collector.CacheMissTotal.Inc()
			}
			misses.Add(1)
		}

		wg.Add(1)
		go func(idx int, req *detector.DetectionRequest) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				results[idx] = canceledResult(req, err)
				if job != nil {
					job.recordResult(true)
				}
				return
			}
			defer sem.Release(1)

			shared, _, _ := o.inflight.Do(detector.HashContent(req.Content), func() (interface{}, error) {
				return <-o.pool.Submit(ctx, req.Content, req.Options), nil
			})
			res := shared.(*detector.DetectionResult).Clone()
			res.RequestID = req.ID
			results[idx] = res

			if opts.EnableCache && res.Error == "" {
				o.cache.Set(req.Content, res)
			}
			if o.collector != nil {
				o.collector.ObserveResult(res)
			}
			if o.notifier != nil {
				o.notifier.Notify(res)
			}
			if job != nil {
				job.recordResult(res.Error != "")
			}
		}(i, req)
	}

	wg.Wait()
	if o.collector != nil {
		o.collector.BacklogDepth.Set(float64(o.pool.QueueDepth()))
		busy := 0
		for _, ws := range o.pool.Stats() {
			if ws.Busy {
				busy++
			}
		}
		o.collector.WorkersBusy.Set(float64(busy))
	}
	return results, int(hits.Load()), int(misses.Load())
}

// validate fails fast before any detection work.
func (o *Orchestrator) validate(requests []detector.DetectionRequest) error {
	if len(requests) == 0 {
		return ErrEmptyBatch
	}
	if len(requests) > o.cfg.MaxBatchSize {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(requests), o.cfg.MaxBatchSize)
	}
	for i := range requests {
		if requests[i].Content == "" {
			return fmt.Errorf("%w: request %d", ErrEmptyContent, i)
		}
	}
	return nil
}

func (o *Orchestrator) clampParallelism(p int) int {
	if p <= 0 {
		p = o.cfg.DefaultParallelism
	}
	if p < 1 {
		p = 1
	}
	if p > o.cfg.MaxParallelism {
		p = o.cfg.MaxParallelism
	}
	return p
}

// recordBatch updates the process-wide counters and batch metrics.
func (o *Orchestrator) recordBatch(size int, results []*detector.DetectionResult, elapsed time.Duration, status JobStatus) {
	o.statsMu.Lock()
	o.totalBatches++
	o.totalRequests += int64(size)
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Error != "" {
			o.failed++
		} else {
			o.succeeded++
		}
	}
	o.totalBatchTimeMs += float64(elapsed.Microseconds()) / 1000.0
	o.statsMu.Unlock()

	if o.collector != nil {
		o.collector.BatchesTotal.WithLabelValues(string(status)).Inc()
		o.collector.BatchSize.Observe(float64(size))
		o.collector.BatchDuration.Observe(elapsed.Seconds())
	}
}

// assignIDs fills in missing request identifiers. Operates on a copy so
// submitted requests stay immutable for the caller.
func assignIDs(requests []detector.DetectionRequest) []detector.DetectionRequest {
	out := make([]detector.DetectionRequest, len(requests))
	copy(out, requests)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
		if out[i].ContentType == "" {
			out[i].ContentType = detector.ContentTypeText
		}
	}
	return out
}

func canceledResult(req *detector.DetectionRequest, err error) *detector.DetectionResult {
	return &detector.DetectionResult{
		RequestID:       req.ID,
		Detected:        false,
		Threats:         []detector.Threat{},
		Severity:        detector.SeverityLow,
		DetectionMethod: detector.MethodPattern,
		ContentHash:     detector.HashContent(req.Content),
		Timestamp:       time.Now(),
		Error:           fmt.Sprintf("dispatch canceled: %v", err),
	}
}

func throughput(processed int, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(processed) / secs
}
