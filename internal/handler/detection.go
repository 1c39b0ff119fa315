package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"content-threat-detection/internal/batch"
	"content-threat-detection/internal/detector"
)

// DetectionHandler exposes the batch pipeline over HTTP.
type DetectionHandler struct {
	orchestrator *batch.Orchestrator
	logger       *logrus.Logger
}

// NewDetectionHandler creates a new detection handler.
func NewDetectionHandler(orchestrator *batch.Orchestrator, logger *logrus.Logger) *DetectionHandler {
	return &DetectionHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// batchOptions is the wire form of batch.Options; pointers distinguish
// "absent" from "false" so cache and aggregation default to enabled.
type batchOptions struct {
	Parallelism      int   `json:"parallelism,omitempty"`
	Async            bool  `json:"async,omitempty"`
	EnableCache      *bool `json:"enable_cache,omitempty"`
	AggregateResults *bool `json:"aggregate_results,omitempty"`
}

type batchRequest struct {
	Requests []detector.DetectionRequest `json:"requests" binding:"required"`
	Options  *batchOptions               `json:"options,omitempty"`
}

func (r *batchRequest) resolve() (batch.Options, bool) {
	opts := batch.DefaultOptions()
	async := false
	if r.Options != nil {
		opts.Parallelism = r.Options.Parallelism
		async = r.Options.Async
		if r.Options.EnableCache != nil {
			opts.EnableCache = *r.Options.EnableCache
		}
		if r.Options.AggregateResults != nil {
			opts.AggregateResults = *r.Options.AggregateResults
		}
	}
	return opts, async
}

// DetectBatch handles POST /v1/detect/batch requests.
func (h *DetectionHandler) DetectBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Invalid batch payload")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}

	opts, async := req.resolve()

	h.logger.WithFields(logrus.Fields{
		"requests":    len(req.Requests),
		"async":       async,
		"parallelism": opts.Parallelism,
		"client_ip":   c.ClientIP(),
	}).Info("Processing batch detection request")

	if async {
		batchID, err := h.orchestrator.SubmitAsync(req.Requests, opts)
		if err != nil {
			h.validationError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"batch_id":   batchID,
			"status":     batch.StatusQueued,
			"status_url": fmt.Sprintf("/v1/batch/%s", batchID),
		})
		return
	}

	result, err := h.orchestrator.ProcessBatch(c.Request.Context(), req.Requests, opts)
	if err != nil {
		h.validationError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"batch_id":       result.BatchID,
		"processed":      result.ProcessedRequests,
		"throughput_rps": result.Throughput,
	}).Info("Batch detection completed")

	c.JSON(http.StatusOK, result)
}

// Detect handles POST /v1/detect requests for a single piece of content.
func (h *DetectionHandler) Detect(c *gin.Context) {
	var req detector.DetectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}

	result, err := h.orchestrator.ProcessBatch(c.Request.Context(), []detector.DetectionRequest{req}, batch.DefaultOptions())
	if err != nil {
		h.validationError(c, err)
		return
	}
	c.JSON(http.StatusOK, result.Results[0])
}

// BatchStatus handles GET /v1/batch/:id requests.
func (h *DetectionHandler) BatchStatus(c *gin.Context) {
	snapshot, err := h.orchestrator.JobStatus(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch job not found"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// ClearCache handles POST /v1/cache/clear requests.
func (h *DetectionHandler) ClearCache(c *gin.Context) {
	h.orchestrator.ClearCache()
	c.JSON(http.StatusOK, gin.H{"status": "cache cleared"})
}

// CleanupJobs handles POST /v1/jobs/cleanup requests.
func (h *DetectionHandler) CleanupJobs(c *gin.Context) {
	removed := h.orchestrator.CleanupJobs(0)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// GetStats handles GET /v1/stats requests.
func (h *DetectionHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pipeline": h.orchestrator.Stats(),
		"cache":    h.orchestrator.CacheStats(),
		"workers":  h.orchestrator.WorkerStats(),
	})
}

// ResetStats handles POST /v1/stats/reset requests.
func (h *DetectionHandler) ResetStats(c *gin.Context) {
	h.orchestrator.ResetStats()
	c.JSON(http.StatusOK, gin.H{"status": "stats reset"})
}

// HealthCheck handles GET /health requests.
func (h *DetectionHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"workers": h.orchestrator.Stats().WorkerPoolSize,
	})
}

func (h *DetectionHandler) validationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, batch.ErrEmptyBatch),
		errors.Is(err, batch.ErrBatchTooLarge),
		errors.Is(err, batch.ErrEmptyContent):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Batch validation failed",
			"details": err.Error(),
		})
	default:
		h.logger.WithError(err).Error("Batch processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Batch processing failed",
			"details": err.Error(),
		})
	}
}
