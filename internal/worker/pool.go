// Package worker implements the fixed detection worker pool: one engine
// instance per worker, strict-FIFO backlog, per-worker statistics, and task
// failure isolation at the pool boundary.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"content-threat-detection/internal/detector"
)

// Detector is what a worker hosts. *detector.Engine satisfies it; tests
// inject failing implementations to exercise isolation.
type Detector interface {
	Detect(content string, opts *detector.Options) *detector.DetectionResult
}

// Config holds pool sizing.
type Config struct {
	// Size is the number of workers. Defaults to the logical core count.
	Size int
}

// Stats describes one worker's lifetime counters.
type Stats struct {
	ID        int     `json:"id"`
	Processed int64   `json:"processed"`
	Errors    int64   `json:"errors"`
	AvgTimeMs float64 `json:"avg_time_ms"`
	Busy      bool    `json:"busy"`
}

// task is one queued detection. The result channel is buffered so a worker
// never blocks on a caller that stopped waiting.
type task struct {
	content string
	opts    *detector.Options
	result  chan *detector.DetectionResult
}

type workerState struct {
	id     int
	engine Detector
	inbox  chan *task
	closed bool

	// Guarded by the pool mutex.
	busy      bool
	processed int64
	errors    int64
	totalTime time.Duration
}

// Pool dispatches detection tasks across a fixed set of workers. When every
// worker is busy, tasks queue in a strict FIFO backlog; the pool never
// rejects work. Callers bound submission rate upstream.
type Pool struct {
	logger *logrus.Logger
	wg     sync.WaitGroup

	mu         sync.Mutex
	workers    []*workerState
	backlog    []*task
	terminated bool
}

// NewPool starts cfg.Size workers, each hosting one detector built by the
// factory.
func NewPool(cfg Config, factory func() Detector, logger *logrus.Logger) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = runtime.NumCPU()
	}

	p := &Pool{logger: logger}
	p.workers = make([]*workerState, size)
	for i := 0; i < size; i++ {
		w := &workerState{
			id:     i,
			engine: factory(),
			inbox:  make(chan *task, 1),
		}
		p.workers[i] = w
		p.wg.Add(1)
		go p.runWorker(w)
	}

	logger.WithField("workers", size).Info("Detection worker pool started")
	return p
}

// Submit queues content for detection and returns a channel that receives
// exactly one result. The context only bounds the caller's wait, not the
// task itself: a task that is mid-flight always completes.
func (p *Pool) Submit(ctx context.Context, content string, opts *detector.Options) <-chan *detector.DetectionResult {
	t := &task{
		content: content,
		opts:    opts,
		result:  make(chan *detector.DetectionResult, 1),
	}

	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		t.result <- errorResult(content, "worker pool terminated")
		return t.result
	}

	for _, w := range p.workers {
		if !w.busy {
			w.busy = true
			w.inbox <- t
			p.mu.Unlock()
			return t.result
		}
	}

	p.backlog = append(p.backlog, t)
	p.mu.Unlock()
	return t.result
}

// Process submits content and waits for the result or context expiry.
func (p *Pool) Process(ctx context.Context, content string, opts *detector.Options) (*detector.DetectionResult, error) {
	select {
	case res := <-p.Submit(ctx, content, opts):
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns a snapshot of every worker's counters.
func (p *Pool) Stats() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Stats, len(p.workers))
	for i, w := range p.workers {
		avg := 0.0
		if w.processed > 0 {
			avg = float64(w.totalTime.Microseconds()) / float64(w.processed) / 1000.0
		}
		out[i] = Stats{
			ID:        w.id,
			Processed: w.processed,
			Errors:    w.errors,
			AvgTimeMs: avg,
			Busy:      w.busy,
		}
	}
	return out
}

// QueueDepth returns the current backlog length.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog)
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Terminate resolves all backlogged tasks with error results and stops the
// workers once their in-flight tasks finish. Idempotent.
func (p *Pool) Terminate() {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true

	for _, t := range p.backlog {
		t.result <- errorResult(t.content, "worker pool terminated")
	}
	p.backlog = nil

	for _, w := range p.workers {
		if !w.busy && !w.closed {
			w.closed = true
			close(w.inbox)
		}
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Detection worker pool terminated")
}

// runWorker is the per-worker loop: process, record, pull the next
// backlogged task if any.
func (p *Pool) runWorker(w *workerState) {
	defer p.wg.Done()

	for t := range w.inbox {
		start := time.Now()
		res := p.runTask(w, t)
		elapsed := time.Since(start)
		t.result <- res

		p.mu.Lock()
		w.processed++
		w.totalTime += elapsed
		if res.Error != "" {
			w.errors++
		}
		if len(p.backlog) > 0 {
			next := p.backlog[0]
			p.backlog = p.backlog[1:]
			w.inbox <- next
		} else {
			w.busy = false
			if p.terminated && !w.closed {
				w.closed = true
				close(w.inbox)
			}
		}
		p.mu.Unlock()
	}
}

// runTask executes one detection with panic isolation: a crashing detector
// is converted into a resolved error result and never takes down siblings
// or the pool.
func (p *Pool) runTask(w *workerState, t *task) (res *detector.DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"worker": w.id,
				"panic":  fmt.Sprintf("%v", r),
			}).Error("Worker task panicked")
			res = errorResult(t.content, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	res = w.engine.Detect(t.content, t.opts)
	if res == nil {
		res = errorResult(t.content, "detector returned no result")
	}
	return res
}

// errorResult builds the resolved-with-error result used for isolated task
// failures.
func errorResult(content, msg string) *detector.DetectionResult {
	return &detector.DetectionResult{
		Detected:        false,
		Threats:         []detector.Threat{},
		Severity:        detector.SeverityLow,
		DetectionMethod: detector.MethodPattern,
		ContentHash:     detector.HashContent(content),
		Timestamp:       time.Now(),
		Error:           msg,
	}
}
