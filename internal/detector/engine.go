package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds engine tuning. Every sub-check can be disabled independently;
// the zero value is not usable, call DefaultConfig.
type Config struct {
	EnablePatternCheck   bool
	EnablePIICheck       bool
	EnableJailbreakCheck bool

	// BlockConfidenceThreshold is the minimum confidence a high-severity
	// threat needs before it forces a block. Critical always blocks.
	BlockConfidenceThreshold float64

	// SimilarityThreshold is the minimum similarity score for a vector
	// match to count as a threat.
	SimilarityThreshold float64

	// SimilarityTopK bounds how many neighbours the backend is asked for.
	SimilarityTopK int

	// SimilarityTimeout bounds one backend call.
	SimilarityTimeout time.Duration

	// MultiStageThreshold is the number of weak jailbreak indicators that
	// together count as a staged jailbreak attempt.
	MultiStageThreshold int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		EnablePatternCheck:       true,
		EnablePIICheck:           true,
		EnableJailbreakCheck:     true,
		BlockConfidenceThreshold: 0.8,
		SimilarityThreshold:      0.85,
		SimilarityTopK:           5,
		SimilarityTimeout:        2 * time.Second,
		MultiStageThreshold:      3,
	}
}

// Engine is a stateless content-threat classifier. Instances hold only
// read-only pattern tables and may be duplicated freely, one per worker,
// with zero synchronization.
type Engine struct {
	cfg        Config
	similarity SimilaritySearcher
	breaker    *CircuitBreaker
	logger     *logrus.Logger
}

// NewEngine creates an engine without a similarity backend.
func NewEngine(cfg Config, logger *logrus.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		breaker: NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		logger:  logger,
	}
}

// NewEngineWithSimilarity creates an engine that consults the given vector
// backend before running pattern checks.
func NewEngineWithSimilarity(cfg Config, searcher SimilaritySearcher, logger *logrus.Logger) *Engine {
	e := NewEngine(cfg, logger)
	e.similarity = searcher
	return e
}

// HashContent returns the 16-hex-char digest prefix used as the cache key
// and audit identifier for a piece of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}

// Detect classifies content and always resolves: internal failures are
// reported through the result's Error field with detected=false so that one
// malformed input can never abort a batch.
func (e *Engine) Detect(content string, opts *Options) (result *DetectionResult) {
	start := time.Now()

	result = &DetectionResult{
		Threats:         []Threat{},
		Severity:        SeverityLow,
		DetectionMethod: MethodPattern,
		ContentHash:     HashContent(content),
		Timestamp:       start,
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("panic", fmt.Sprintf("%v", r)).Error("Detection sub-check panicked")
			result.Detected = false
			result.Threats = []Threat{}
			result.Severity = SeverityLow
			result.ShouldBlock = false
			result.Error = fmt.Sprintf("internal detection error: %v", r)
		}
		result.DetectionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	}()

	// Similarity first, patterns always: the two paths are complementary,
	// not alternatives.
	if e.similarity != nil {
		if threat, ok := e.similaritySearch(content); ok {
			result.Threats = append(result.Threats, threat)
			result.DetectionMethod = MethodVectorSearch
		}
	}

	if e.cfg.EnablePatternCheck {
		result.Threats = append(result.Threats, e.checkPatterns(content)...)
	}
	if e.cfg.EnableJailbreakCheck {
		result.Threats = append(result.Threats, e.checkJailbreak(content)...)
	}
	if e.cfg.EnablePIICheck {
		result.Threats = append(result.Threats, e.checkPII(content)...)
	}

	e.finalize(result, opts)
	return result
}

// finalize combines per-threat verdicts into the overall severity and block
// decision.
func (e *Engine) finalize(result *DetectionResult, opts *Options) {
	threshold := e.cfg.BlockConfidenceThreshold
	if opts != nil && opts.BlockConfidenceThreshold > 0 {
		threshold = opts.BlockConfidenceThreshold
	}

	result.Detected = len(result.Threats) > 0
	result.Severity = SeverityLow
	result.ShouldBlock = false

	for _, t := range result.Threats {
		result.Severity = MaxSeverity(result.Severity, t.Severity)
		if t.Severity == SeverityCritical {
			result.ShouldBlock = true
		}
		if t.Severity == SeverityHigh && t.Confidence >= threshold {
			result.ShouldBlock = true
		}
	}
}

// checkPatterns runs the injection-attack signature table.
func (e *Engine) checkPatterns(content string) []Threat {
	var threats []Threat
	for _, sig := range injectionSignatures {
		if sig.pattern.MatchString(content) {
			threats = append(threats, e.threatFromSignature(sig))
		}
	}
	return threats
}

// checkJailbreak runs the jailbreak table plus the multi-stage indicator
// count: enough weak indicators in one prompt count as a staged attempt.
func (e *Engine) checkJailbreak(content string) []Threat {
	var threats []Threat
	for _, sig := range jailbreakSignatures {
		if sig.pattern.MatchString(content) {
			threats = append(threats, e.threatFromSignature(sig))
		}
	}

	indicators := 0
	for _, re := range multiStageIndicators {
		if re.MatchString(content) {
			indicators++
		}
	}
	if e.cfg.MultiStageThreshold > 0 && indicators >= e.cfg.MultiStageThreshold {
		threats = append(threats, Threat{
			Type:        "multi_stage_jailbreak",
			Category:    CategoryJailbreak,
			Severity:    SeverityHigh,
			Confidence:  0.6 + 0.1*float64(indicators-e.cfg.MultiStageThreshold),
			Description: fmt.Sprintf("%d jailbreak indicators in one prompt", indicators),
		})
	}
	return threats
}

// checkPII runs the PII exposure table.
func (e *Engine) checkPII(content string) []Threat {
	var threats []Threat
	for _, sig := range piiSignatures {
		if sig.pattern.MatchString(content) {
			threats = append(threats, Threat{
				Type:        sig.piiType,
				Category:    CategoryPII,
				Severity:    sig.severity,
				Confidence:  sig.confidence,
				Description: fmt.Sprintf("Content contains %s", sig.piiType),
				ShouldBlock: sig.severity == SeverityCritical,
			})
		}
	}
	return threats
}

// similaritySearch consults the vector backend through the circuit breaker.
// Any failure degrades silently to pattern-only detection.
func (e *Engine) similaritySearch(content string) (Threat, bool) {
	var matches []SimilarityMatch

	err := e.breaker.Call(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SimilarityTimeout)
		defer cancel()

		var searchErr error
		matches, searchErr = e.similarity.SearchSimilar(ctx, EmbedContent(content), e.cfg.SimilarityTopK, e.cfg.SimilarityThreshold)
		return searchErr
	})
	if err != nil {
		if err != ErrCircuitOpen {
			e.logger.WithError(err).Debug("Similarity backend unavailable, using pattern-only detection")
		}
		return Threat{}, false
	}

	var best *SimilarityMatch
	for i := range matches {
		if matches[i].Similarity < e.cfg.SimilarityThreshold {
			continue
		}
		if best == nil || matches[i].Similarity > best.Similarity {
			best = &matches[i]
		}
	}
	if best == nil {
		return Threat{}, false
	}

	severity := best.Metadata.Severity
	if severity == "" {
		severity = SeverityHigh
	}
	return Threat{
		Type:        best.Metadata.Type,
		Category:    CategorySimilarity,
		Severity:    severity,
		Confidence:  best.Similarity,
		Description: fmt.Sprintf("Similar to known attack pattern (similarity %.2f)", best.Similarity),
	}, true
}

func (e *Engine) threatFromSignature(sig signature) Threat {
	return Threat{
		Type:        sig.threatType,
		Category:    sig.category,
		Severity:    sig.severity,
		Confidence:  sig.confidence,
		Description: sig.description,
		ShouldBlock: sig.severity == SeverityCritical,
	}
}

// BreakerState exposes the similarity breaker state for health reporting.
func (e *Engine) BreakerState() string {
	return e.breaker.StateName()
}
