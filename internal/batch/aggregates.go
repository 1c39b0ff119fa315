package batch

import (
	"content-threat-detection/internal/detector"
)

// Summary is the headline slice of the aggregates.
type Summary struct {
	TotalProcessed  int `json:"total_processed"`
	ThreatsDetected int `json:"threats_detected"`
	Blocked         int `json:"blocked"`
	Errors          int `json:"errors"`
}

// CacheCounts reports hit/miss counts for one batch.
type CacheCounts struct {
	Hits   int     `json:"hits"`
	Misses int     `json:"misses"`
	Rate   float64 `json:"hit_rate"`
}

// Aggregates summarize one batch's result set. Derived data: always
// recomputed from the results, never persisted independently.
type Aggregates struct {
	Summary              Summary        `json:"summary"`
	BySeverity           map[string]int `json:"by_severity"`
	ByCategory           map[string]int `json:"by_category"`
	Cache                CacheCounts    `json:"cache"`
	AvgDetectionTimeMs   float64        `json:"avg_detection_time_ms"`
	TotalDetectionTimeMs float64        `json:"total_detection_time_ms"`
}

// computeAggregates folds a result set into summary statistics. Pure
// post-processing with no side effects on job state.
func computeAggregates(results []*detector.DetectionResult, cacheHits, cacheMisses int) *Aggregates {
	agg := &Aggregates{
		BySeverity: make(map[string]int),
		ByCategory: make(map[string]int),
		Cache: CacheCounts{
			Hits:   cacheHits,
			Misses: cacheMisses,
		},
	}
	if total := cacheHits + cacheMisses; total > 0 {
		agg.Cache.Rate = float64(cacheHits) / float64(total)
	}

	for _, res := range results {
		if res == nil {
			continue
		}
		agg.Summary.TotalProcessed++
		agg.TotalDetectionTimeMs += res.DetectionTimeMs
		if res.Error != "" {
			agg.Summary.Errors++
		}
		if res.Detected {
			agg.Summary.ThreatsDetected++
		}
		if res.ShouldBlock {
			agg.Summary.Blocked++
		}
		agg.BySeverity[string(res.Severity)]++
		for _, t := range res.Threats {
			agg.ByCategory[t.Category]++
		}
	}
	if agg.Summary.TotalProcessed > 0 {
		agg.AvgDetectionTimeMs = agg.TotalDetectionTimeMs / float64(agg.Summary.TotalProcessed)
	}
	return agg
}
