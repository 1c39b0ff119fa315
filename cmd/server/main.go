package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"content-threat-detection/internal/batch"
	"content-threat-detection/internal/cache"
	"content-threat-detection/internal/config"
	"content-threat-detection/internal/detector"
	"content-threat-detection/internal/handler"
	"content-threat-detection/internal/learning"
	"content-threat-detection/internal/metrics"
	"content-threat-detection/internal/worker"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	collector := metrics.New(registry)

	// Detection engine configuration shared by every worker
	engineCfg := detector.DefaultConfig()
	engineCfg.EnablePatternCheck = cfg.Detection.EnablePatternCheck
	engineCfg.EnablePIICheck = cfg.Detection.EnablePIICheck
	engineCfg.EnableJailbreakCheck = cfg.Detection.EnableJailbreakCheck
	engineCfg.BlockConfidenceThreshold = cfg.Detection.BlockConfidenceThreshold
	engineCfg.SimilarityThreshold = cfg.Detection.SimilarityThreshold
	engineCfg.SimilarityTimeout = cfg.Detection.SimilarityTimeout
	engineCfg.MultiStageThreshold = cfg.Detection.MultiStageThreshold

	// Worker pool, one engine per worker
	pool := worker.NewPool(worker.Config{Size: cfg.Detection.WorkerPoolSize}, func() worker.Detector {
		return detector.NewEngine(engineCfg, log)
	}, log)
	defer pool.Terminate()

	// Pattern cache
	patternCache := cache.New(cache.Config{
		MaxSize: cfg.Cache.MaxSize,
		TTL:     cfg.Cache.TTL,
	})

	// Optional learning side channel
	var notifier *learning.Notifier
	if cfg.Learning.Enabled {
		notifier = learning.NewNotifier(learning.Config{
			QueueSize:      cfg.Learning.QueueSize,
			DroppedCounter: collector.LearningDropped,
		}, learning.NewLogConsumer(log), log)
		defer notifier.Close()
	}

	// Batch orchestrator
	orchestrator, err := batch.New(batch.Config{
		MaxBatchSize:       cfg.Batch.MaxBatchSize,
		DefaultParallelism: cfg.Batch.DefaultParallelism,
		MaxParallelism:     cfg.Batch.MaxParallelism,
		JobTimeout:         cfg.Batch.JobTimeout,
		JobRetention:       cfg.Batch.JobRetention,
		AsyncRunners:       cfg.Batch.AsyncRunners,
	}, patternCache, pool, collector, notifier, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create batch orchestrator")
	}
	defer orchestrator.Close()

	// Periodic maintenance: expired cache entries and retained jobs
	stopMaintenance := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pruned := patternCache.Prune()
				removed := orchestrator.CleanupJobs(0)
				if pruned > 0 || removed > 0 {
					log.WithFields(logrus.Fields{
						"cache_pruned": pruned,
						"jobs_removed": removed,
					}).Info("Maintenance pass")
				}
			case <-stopMaintenance:
				return
			}
		}
	}()
	defer close(stopMaintenance)

	// Initialize HTTP handlers
	handlers := handler.NewDetectionHandler(orchestrator, log)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Add middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Prometheus endpoint
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	// Detection endpoints
	v1 := router.Group("/v1")
	{
		v1.POST("/detect", handlers.Detect)
		v1.POST("/detect/batch", handlers.DetectBatch)
		v1.GET("/batch/:id", handlers.BatchStatus)
		v1.POST("/cache/clear", handlers.ClearCache)
		v1.POST("/jobs/cleanup", handlers.CleanupJobs)
		v1.GET("/stats", handlers.GetStats)
		v1.POST("/stats/reset", handlers.ResetStats)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	// Start server in goroutine
	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting detection server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with 30 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server stopped")
}
