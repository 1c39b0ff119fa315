package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Detection DetectionConfig `mapstructure:"detection"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Learning  LearningConfig  `mapstructure:"learning"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DetectionConfig struct {
	EnablePatternCheck       bool          `mapstructure:"enable_pattern_check"`
	EnablePIICheck           bool          `mapstructure:"enable_pii_check"`
	EnableJailbreakCheck     bool          `mapstructure:"enable_jailbreak_check"`
	BlockConfidenceThreshold float64       `mapstructure:"block_confidence_threshold"`
	SimilarityThreshold      float64       `mapstructure:"similarity_threshold"`
	SimilarityTimeout        time.Duration `mapstructure:"similarity_timeout"`
	MultiStageThreshold      int           `mapstructure:"multi_stage_threshold"`
	WorkerPoolSize           int           `mapstructure:"worker_pool_size"`
}

type CacheConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type BatchConfig struct {
	MaxBatchSize       int           `mapstructure:"max_batch_size"`
	DefaultParallelism int           `mapstructure:"default_parallelism"`
	MaxParallelism     int           `mapstructure:"max_parallelism"`
	JobTimeout         time.Duration `mapstructure:"job_timeout"`
	JobRetention       time.Duration `mapstructure:"job_retention"`
	AsyncRunners       int           `mapstructure:"async_runners"`
}

type LearningConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	QueueSize int  `mapstructure:"queue_size"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeout", "30s")
	viper.SetDefault("detection.enable_pattern_check", true)
	viper.SetDefault("detection.enable_pii_check", true)
	viper.SetDefault("detection.enable_jailbreak_check", true)
	viper.SetDefault("detection.block_confidence_threshold", 0.8)
	viper.SetDefault("detection.similarity_threshold", 0.85)
	viper.SetDefault("detection.similarity_timeout", "2s")
	viper.SetDefault("detection.multi_stage_threshold", 3)
	viper.SetDefault("detection.worker_pool_size", 0) // 0 = logical core count
	viper.SetDefault("cache.max_size", 10000)
	viper.SetDefault("cache.ttl", "1h")
	viper.SetDefault("batch.max_batch_size", 10000)
	viper.SetDefault("batch.default_parallelism", 10)
	viper.SetDefault("batch.max_parallelism", 100)
	viper.SetDefault("batch.job_timeout", "5m")
	viper.SetDefault("batch.job_retention", "1h")
	viper.SetDefault("batch.async_runners", 16)
	viper.SetDefault("learning.enabled", false)
	viper.SetDefault("learning.queue_size", 1024)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	// Read config file (optional, will use defaults if not found)
	_ = viper.ReadInConfig()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
