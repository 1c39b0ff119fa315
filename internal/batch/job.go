package batch

import (
	"sync"
	"time"

	"content-threat-detection/internal/detector"
)

// JobStatus is the lifecycle state of an async batch job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusTimeout    JobStatus = "timeout"
)

// terminal reports whether a job can no longer change state.
func (s JobStatus) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// Job tracks one asynchronous batch through its lifecycle. Only the job
// runner mutates it; everyone else reads snapshots.
type Job struct {
	mu sync.Mutex

	batchID    string
	requests   []detector.DetectionRequest
	status     JobStatus
	total      int
	processed  int
	failed     int
	startedAt  time.Time
	finishedAt time.Time
	results    []*detector.DetectionResult
	aggregates *Aggregates
	errMsg     string
}

// Snapshot is a point-in-time copy of a job, safe to hand to callers.
// Results and aggregates are attached only on completed jobs.
type Snapshot struct {
	BatchID    string                      `json:"batch_id"`
	Status     JobStatus                   `json:"status"`
	Total      int                         `json:"total"`
	Processed  int                         `json:"processed"`
	Failed     int                         `json:"failed"`
	Progress   float64                     `json:"progress"`
	StartTime  time.Time                   `json:"start_time"`
	FinishTime *time.Time                  `json:"finish_time,omitempty"`
	Results    []*detector.DetectionResult `json:"results,omitempty"`
	Aggregates *Aggregates                 `json:"aggregates,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

func newJob(batchID string, requests []detector.DetectionRequest) *Job {
	return &Job{
		batchID:   batchID,
		requests:  requests,
		status:    StatusQueued,
		total:     len(requests),
		startedAt: time.Now(),
	}
}

// markProcessing moves queued -> processing. Returns false if the job
// already reached a terminal state (e.g. timed out while queued).
func (j *Job) markProcessing() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusQueued {
		return false
	}
	j.status = StatusProcessing
	return true
}

// recordResult bumps the progress counters as individual requests resolve.
// Terminal jobs are immutable: results landing after a timeout are dropped.
func (j *Job) recordResult(failed bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.terminal() {
		return
	}
	j.processed++
	if failed {
		j.failed++
	}
}

// complete attaches the final result set. No-op when the deadline already
// forced a terminal state: late results are discarded.
func (j *Job) complete(results []*detector.DetectionResult, aggregates *Aggregates) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.terminal() {
		return false
	}
	j.status = StatusCompleted
	j.results = results
	j.aggregates = aggregates
	j.processed = len(results)
	now := time.Now()
	j.finishedAt = now
	return true
}

// fail marks the job failed with an orchestration error.
func (j *Job) fail(msg string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.terminal() {
		return false
	}
	j.status = StatusFailed
	j.errMsg = msg
	j.finishedAt = time.Now()
	return true
}

// timeout forces the terminal timeout state regardless of in-flight work.
func (j *Job) timeout() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.terminal() {
		return false
	}
	j.status = StatusTimeout
	j.errMsg = "job exceeded deadline"
	j.finishedAt = time.Now()
	return true
}

// snapshot copies the job state. Result pointers are shared with the job,
// which is safe because a completed job is immutable.
func (j *Job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := Snapshot{
		BatchID:   j.batchID,
		Status:    j.status,
		Total:     j.total,
		Processed: j.processed,
		Failed:    j.failed,
		StartTime: j.startedAt,
		Error:     j.errMsg,
	}
	if j.total > 0 {
		snap.Progress = float64(j.processed) / float64(j.total)
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		snap.FinishTime = &t
	}
	if j.status == StatusCompleted {
		snap.Results = j.results
		snap.Aggregates = j.aggregates
	}
	return snap
}

// finishedBefore reports whether the job reached a terminal state before
// the cutoff. Used by retention cleanup.
func (j *Job) finishedBefore(cutoff time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status.terminal() && !j.finishedAt.IsZero() && j.finishedAt.Before(cutoff)
}
