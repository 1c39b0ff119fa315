package detector

import "regexp"

// signature is one compiled threat pattern. The tables below are data:
// operators are expected to replace or extend them without touching the
// engine itself.
type signature struct {
	pattern     *regexp.Regexp
	threatType  string
	category    string
	severity    Severity
	confidence  float64
	description string
}

var injectionSignatures = []signature{
	{
		pattern:     regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
		threatType:  "instruction_override",
		category:    CategoryPromptInjection,
		severity:    SeverityHigh,
		confidence:  0.9,
		description: "Attempt to override prior instructions",
	},
	{
		pattern:     regexp.MustCompile(`(?i)disregard\s+(all\s+|your\s+)?(previous|prior|earlier)\s+(instructions?|context|rules?)`),
		threatType:  "instruction_override",
		category:    CategoryPromptInjection,
		severity:    SeverityHigh,
		confidence:  0.9,
		description: "Attempt to discard prior instructions",
	},
	{
		pattern:     regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(your\s+|the\s+)?(system\s+prompt|initial\s+instructions?|hidden\s+instructions?)`),
		threatType:  "system_prompt_leak",
		category:    CategoryPromptInjection,
		severity:    SeverityHigh,
		confidence:  0.85,
		description: "Attempt to extract the system prompt",
	},
	{
		pattern:     regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\s+`),
		threatType:  "role_reassignment",
		category:    CategoryPromptInjection,
		severity:    SeverityMedium,
		confidence:  0.7,
		description: "Attempt to reassign the assistant role",
	},
	{
		pattern:     regexp.MustCompile(`(?i)new\s+(instructions?|task|objective)\s*:`),
		threatType:  "instruction_injection",
		category:    CategoryPromptInjection,
		severity:    SeverityMedium,
		confidence:  0.65,
		description: "Inline instruction injection marker",
	},
	{
		pattern:     regexp.MustCompile(`(?i)forget\s+(everything|all)\s+(you|above|before)`),
		threatType:  "context_reset",
		category:    CategoryPromptInjection,
		severity:    SeverityHigh,
		confidence:  0.85,
		description: "Attempt to reset conversation context",
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(union\s+select|select\s+\*\s+from|insert\s+into|delete\s+from|drop\s+table|truncate\s+table)\b`),
		threatType:  "sql_keywords",
		category:    CategorySQLInjection,
		severity:    SeverityCritical,
		confidence:  0.9,
		description: "SQL injection statement",
	},
	{
		pattern:     regexp.MustCompile(`(?i)('\s*(or|and)\s+'?\d+'?\s*=\s*'?\d+)|(;\s*--)|('\s*;\s*)`),
		threatType:  "sql_tautology",
		category:    CategorySQLInjection,
		severity:    SeverityHigh,
		confidence:  0.8,
		description: "SQL tautology or statement terminator",
	},
	{
		pattern:     regexp.MustCompile("(?i)[;&|`]\\s*(rm|cat|wget|curl|bash|sh|nc|chmod|chown)\\b"),
		threatType:  "shell_command",
		category:    CategoryCommandInjection,
		severity:    SeverityCritical,
		confidence:  0.85,
		description: "Chained shell command",
	},
	{
		pattern:     regexp.MustCompile(`\$\([^)]+\)`),
		threatType:  "command_substitution",
		category:    CategoryCommandInjection,
		severity:    SeverityHigh,
		confidence:  0.75,
		description: "Shell command substitution",
	},
	{
		pattern:     regexp.MustCompile(`(?i)<\s*script[^>]*>`),
		threatType:  "script_tag",
		category:    CategoryXSS,
		severity:    SeverityHigh,
		confidence:  0.9,
		description: "Embedded script tag",
	},
	{
		pattern:     regexp.MustCompile(`(?i)(javascript\s*:|on(load|error|click|mouseover)\s*=)`),
		threatType:  "script_handler",
		category:    CategoryXSS,
		severity:    SeverityMedium,
		confidence:  0.7,
		description: "Inline script handler",
	},
	{
		pattern:     regexp.MustCompile(`(\.\./){2,}|(?i)/etc/(passwd|shadow)`),
		threatType:  "path_traversal",
		category:    CategoryPathTraversal,
		severity:    SeverityHigh,
		confidence:  0.85,
		description: "Filesystem traversal sequence",
	},
}

var jailbreakSignatures = []signature{
	{
		pattern:     regexp.MustCompile(`(?i)\b(DAN|do\s+anything\s+now)\b`),
		threatType:  "dan_persona",
		category:    CategoryJailbreak,
		severity:    SeverityHigh,
		confidence:  0.85,
		description: "DAN-style persona jailbreak",
	},
	{
		pattern:     regexp.MustCompile(`(?i)(developer|god|unrestricted|admin)\s+mode`),
		threatType:  "privileged_mode",
		category:    CategoryJailbreak,
		severity:    SeverityHigh,
		confidence:  0.8,
		description: "Privileged-mode activation attempt",
	},
	{
		pattern:     regexp.MustCompile(`(?i)pretend\s+(you\s+)?(are|have)\s+no\s+(rules|restrictions|guidelines|filters)`),
		threatType:  "restriction_removal",
		category:    CategoryJailbreak,
		severity:    SeverityHigh,
		confidence:  0.85,
		description: "Request to drop safety restrictions",
	},
	{
		pattern:     regexp.MustCompile(`(?i)without\s+(any\s+)?(restrictions|limitations|filters|censorship)`),
		threatType:  "restriction_removal",
		category:    CategoryJailbreak,
		severity:    SeverityMedium,
		confidence:  0.65,
		description: "Unrestricted-output request",
	},
	{
		pattern:     regexp.MustCompile(`(?i)jail\s*break`),
		threatType:  "explicit_jailbreak",
		category:    CategoryJailbreak,
		severity:    SeverityHigh,
		confidence:  0.9,
		description: "Explicit jailbreak reference",
	},
}

// multiStageIndicators are weak signals that only matter in combination:
// enough of them in one prompt suggests a staged jailbreak. The count
// threshold lives in Config.MultiStageThreshold.
var multiStageIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)let'?s\s+play\s+a\s+game`),
	regexp.MustCompile(`(?i)hypothetically`),
	regexp.MustCompile(`(?i)for\s+(educational|research)\s+purposes`),
	regexp.MustCompile(`(?i)roleplay\s+as`),
	regexp.MustCompile(`(?i)in\s+a\s+fictional\s+(world|story|scenario)`),
	regexp.MustCompile(`(?i)step\s+by\s+step`),
	regexp.MustCompile(`(?i)first,?\s+(answer|respond|pretend)`),
}

// piiSignature matches PII exposure. PII never blocks on its own unless the
// matched class is marked sensitive.
type piiSignature struct {
	pattern    *regexp.Regexp
	piiType    string
	severity   Severity
	confidence float64
}

var piiSignatures = []piiSignature{
	{
		pattern:    regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		piiType:    "email",
		severity:   SeverityMedium,
		confidence: 0.9,
	},
	{
		pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		piiType:    "ssn",
		severity:   SeverityHigh,
		confidence: 0.85,
	},
	{
		pattern:    regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
		piiType:    "credit_card",
		severity:   SeverityHigh,
		confidence: 0.6,
	},
	{
		pattern:    regexp.MustCompile(`\b\(?\d{3}\)?[\-. ]\d{3}[\-. ]\d{4}\b`),
		piiType:    "phone",
		severity:   SeverityLow,
		confidence: 0.7,
	},
	{
		pattern:    regexp.MustCompile(`(?i)(api[_\-]?key|secret|token|password)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}`),
		piiType:    "credential",
		severity:   SeverityHigh,
		confidence: 0.8,
	},
	{
		pattern:    regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		piiType:    "aws_access_key",
		severity:   SeverityCritical,
		confidence: 0.95,
	},
}
