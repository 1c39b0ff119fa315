// Package learning forwards detection outcomes to a downstream learning
// consumer as a best-effort side channel. Delivery is fire-and-forget:
// when the queue is full the outcome is dropped, never backpressured into
// the detection path.
package learning

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"content-threat-detection/internal/detector"
)

// Outcome is the trimmed detection record handed to the consumer.
type Outcome struct {
	ContentHash string            `json:"content_hash"`
	Detected    bool              `json:"detected"`
	Severity    detector.Severity `json:"severity"`
	Categories  []string          `json:"categories"`
	ShouldBlock bool              `json:"should_block"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Consumer receives outcomes. Implementations must tolerate bursts; slow
// consumers cause drops, not delays.
type Consumer interface {
	Consume(outcome Outcome)
}

// Config holds notifier tuning.
type Config struct {
	QueueSize int

	// DroppedCounter, when set, is incremented once per dropped outcome.
	DroppedCounter prometheus.Counter
}

// Notifier is the bounded outbound queue plus its single consumer
// goroutine.
type Notifier struct {
	queue       chan Outcome
	consumer    Consumer
	logger      *logrus.Logger
	dropCounter prometheus.Counter
	dropped     atomic.Int64

	stopOnce sync.Once
	done     chan struct{}
}

// NewNotifier starts the consumer goroutine. A nil consumer is allowed and
// turns Notify into a no-op.
func NewNotifier(cfg Config, consumer Consumer, logger *logrus.Logger) *Notifier {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	n := &Notifier{
		queue:       make(chan Outcome, size),
		consumer:    consumer,
		logger:      logger,
		dropCounter: cfg.DroppedCounter,
		done:        make(chan struct{}),
	}
	go n.run()
	return n
}

// Notify enqueues one outcome without ever blocking the caller.
func (n *Notifier) Notify(res *detector.DetectionResult) {
	if n.consumer == nil || res == nil {
		return
	}

	categories := make([]string, 0, len(res.Threats))
	for _, t := range res.Threats {
		categories = append(categories, t.Category)
	}
	out := Outcome{
		ContentHash: res.ContentHash,
		Detected:    res.Detected,
		Severity:    res.Severity,
		Categories:  categories,
		ShouldBlock: res.ShouldBlock,
		Timestamp:   res.Timestamp,
	}

	select {
	case n.queue <- out:
	default:
		if n.dropCounter != nil {
			n.dropCounter.Inc()
		}
		if n.dropped.Add(1)%1000 == 1 {
			n.logger.WithField("dropped", n.dropped.Load()).Warn("Learning queue full, dropping outcomes")
		}
	}
}

// Dropped returns how many outcomes were discarded so far.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Close stops the consumer after draining whatever is already queued.
func (n *Notifier) Close() {
	n.stopOnce.Do(func() {
		close(n.queue)
		<-n.done
	})
}

func (n *Notifier) run() {
	defer close(n.done)
	for out := range n.queue {
		n.consume(out)
	}
}

// consume shields the pipeline from a panicking consumer.
func (n *Notifier) consume(out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.WithField("panic", r).Error("Learning consumer panicked")
		}
	}()
	n.consumer.Consume(out)
}
