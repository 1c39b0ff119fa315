package detector

import "time"

// ContentType identifies the kind of content submitted for analysis.
type ContentType string

const (
	ContentTypeText ContentType = "text"
)

// Severity is an ordinal threat-seriousness level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank maps a severity to its ordinal position for max-combination.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// MaxSeverity returns the higher-ranked of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// DetectionMethod indicates which sub-path produced the classifying threat.
type DetectionMethod string

const (
	MethodPattern      DetectionMethod = "pattern"
	MethodVectorSearch DetectionMethod = "vector_search"
)

// Threat categories produced by the built-in pattern tables.
const (
	CategoryPromptInjection  = "prompt_injection"
	CategoryJailbreak        = "jailbreak"
	CategorySQLInjection     = "sql_injection"
	CategoryCommandInjection = "command_injection"
	CategoryXSS              = "xss"
	CategoryPathTraversal    = "path_traversal"
	CategoryPII              = "pii_exposure"
	CategorySimilarity       = "known_attack_similarity"
)

// DetectionRequest represents a single content analysis request.
// Immutable once submitted to a batch.
type DetectionRequest struct {
	ID          string            `json:"id,omitempty"`
	Content     string            `json:"content"`
	ContentType ContentType       `json:"content_type,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	Options     *Options          `json:"options,omitempty"`
}

// Options allows per-request overrides of engine defaults.
// Zero values mean "use the engine configuration".
type Options struct {
	BlockConfidenceThreshold float64 `json:"block_confidence_threshold,omitempty"`
}

// Threat describes a single matched threat signature.
type Threat struct {
	Type        string   `json:"type"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	ShouldBlock bool     `json:"should_block"`
}

// DetectionResult is the verdict for one request.
type DetectionResult struct {
	RequestID       string          `json:"request_id,omitempty"`
	Detected        bool            `json:"detected"`
	Threats         []Threat        `json:"threats"`
	Severity        Severity        `json:"severity"`
	ShouldBlock     bool            `json:"should_block"`
	DetectionTimeMs float64         `json:"detection_time_ms"`
	DetectionMethod DetectionMethod `json:"detection_method"`
	ContentHash     string          `json:"content_hash"`
	Timestamp       time.Time       `json:"timestamp"`
	Cached          bool            `json:"cached"`
	Error           string          `json:"error,omitempty"`
}

// Clone returns a deep copy so callers can never alias a shared result.
func (r *DetectionResult) Clone() *DetectionResult {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Threats != nil {
		cp.Threats = make([]Threat, len(r.Threats))
		copy(cp.Threats, r.Threats)
	}
	return &cp
}
