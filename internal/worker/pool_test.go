package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-threat-detection/internal/detector"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// fakeDetector records the order in which contents are processed and can be
// told to panic or stall on specific inputs.
type fakeDetector struct {
	mu        sync.Mutex
	processed []string
	delay     time.Duration
}

func (f *fakeDetector) Detect(content string, _ *detector.Options) *detector.DetectionResult {
	if strings.HasPrefix(content, "PANIC") {
		panic("synthetic detector crash")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.processed = append(f.processed, content)
	f.mu.Unlock()
	return &detector.DetectionResult{
		Detected:    false,
		Threats:     []detector.Threat{},
		Severity:    detector.SeverityLow,
		ContentHash: detector.HashContent(content),
		Timestamp:   time.Now(),
	}
}

func TestPoolProcessesAllTasks(t *testing.T) {
	shared := &fakeDetector{}
	p := NewPool(Config{Size: 4}, func() Detector { return shared }, testLogger())
	defer p.Terminate()

	const n = 100
	channels := make([]<-chan *detector.DetectionResult, n)
	for i := 0; i < n; i++ {
		channels[i] = p.Submit(context.Background(), fmt.Sprintf("content-%d", i), nil)
	}

	for i, ch := range channels {
		select {
		case res := <-ch:
			require.NotNil(t, res, "task %d", i)
			assert.Empty(t, res.Error)
		case <-time.After(5 * time.Second):
			t.Fatalf("task %d never resolved", i)
		}
	}

	var processed int64
	for _, ws := range p.Stats() {
		processed += ws.Processed
		assert.False(t, ws.Busy)
	}
	assert.Equal(t, int64(n), processed)
}

func TestPoolBacklogIsFIFO(t *testing.T) {
	shared := &fakeDetector{delay: time.Millisecond}
	p := NewPool(Config{Size: 1}, func() Detector { return shared }, testLogger())
	defer p.Terminate()

	const n = 10
	channels := make([]<-chan *detector.DetectionResult, n)
	for i := 0; i < n; i++ {
		channels[i] = p.Submit(context.Background(), fmt.Sprintf("task-%d", i), nil)
	}
	for _, ch := range channels {
		<-ch
	}

	shared.mu.Lock()
	defer shared.mu.Unlock()
	require.Len(t, shared.processed, n)
	for i, content := range shared.processed {
		assert.Equal(t, fmt.Sprintf("task-%d", i), content, "backlog must dispatch in submission order")
	}
}

func TestPoolIsolatesPanics(t *testing.T) {
	p := NewPool(Config{Size: 2}, func() Detector { return &fakeDetector{} }, testLogger())
	defer p.Terminate()

	crash := p.Submit(context.Background(), "PANIC now", nil)
	ok1 := p.Submit(context.Background(), "fine one", nil)
	ok2 := p.Submit(context.Background(), "fine two", nil)

	res := <-crash
	require.NotNil(t, res)
	assert.False(t, res.Detected)
	assert.Contains(t, res.Error, "worker panic")

	assert.Empty(t, (<-ok1).Error)
	assert.Empty(t, (<-ok2).Error)

	var errors int64
	for _, ws := range p.Stats() {
		errors += ws.Errors
	}
	assert.Equal(t, int64(1), errors)
}

func TestPoolWorkerStats(t *testing.T) {
	shared := &fakeDetector{delay: time.Millisecond}
	p := NewPool(Config{Size: 2}, func() Detector { return shared }, testLogger())
	defer p.Terminate()

	for i := 0; i < 20; i++ {
		<-p.Submit(context.Background(), fmt.Sprintf("c%d", i), nil)
	}

	stats := p.Stats()
	require.Len(t, stats, 2)
	var total int64
	for _, ws := range stats {
		total += ws.Processed
		if ws.Processed > 0 {
			assert.Positive(t, ws.AvgTimeMs)
		}
	}
	assert.Equal(t, int64(20), total)
}

func TestPoolDefaultSize(t *testing.T) {
	p := NewPool(Config{}, func() Detector { return &fakeDetector{} }, testLogger())
	defer p.Terminate()
	assert.Positive(t, p.Size())
}

func TestTerminateResolvesBacklog(t *testing.T) {
	shared := &fakeDetector{delay: 50 * time.Millisecond}
	p := NewPool(Config{Size: 1}, func() Detector { return shared }, testLogger())

	inflight := p.Submit(context.Background(), "long task", nil)
	queued := p.Submit(context.Background(), "queued task", nil)

	go p.Terminate()

	res := <-queued
	assert.Contains(t, res.Error, "terminated")

	// The in-flight task still completes normally.
	assert.Empty(t, (<-inflight).Error)

	// Submissions after termination resolve immediately with an error.
	late := <-p.Submit(context.Background(), "late", nil)
	assert.Contains(t, late.Error, "terminated")
}

func TestProcessRespectsContext(t *testing.T) {
	shared := &fakeDetector{delay: 200 * time.Millisecond}
	p := NewPool(Config{Size: 1}, func() Detector { return shared }, testLogger())
	defer p.Terminate()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Process(ctx, "slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
