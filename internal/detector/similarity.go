package detector

import (
	"context"
	"hash/fnv"
	"math"
)

// SimilarityMatch is one hit returned by the vector backend.
type SimilarityMatch struct {
	Similarity float64       `json:"similarity"`
	Metadata   MatchMetadata `json:"metadata"`
}

// MatchMetadata describes the stored attack pattern a match refers to.
type MatchMetadata struct {
	Pattern  string   `json:"pattern"`
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
}

// SimilaritySearcher is the contract for an optional vector-similarity
// backend holding embeddings of known attacks. Absence or failure of the
// backend never affects the pattern-based path.
type SimilaritySearcher interface {
	SearchSimilar(ctx context.Context, embedding []float32, k int, threshold float64) ([]SimilarityMatch, error)
}

// embeddingDim is the dimensionality of the local hashing embedder.
const embeddingDim = 128

// EmbedContent produces a deterministic hashed bag-of-words embedding,
// L2-normalized. It is a stand-in for a real embedding model and exists so
// the similarity contract can be exercised end to end.
func EmbedContent(content string) []float32 {
	vec := make([]float32, embeddingDim)

	start := -1
	for i := 0; i <= len(content); i++ {
		var c byte
		if i < len(content) {
			c = content[i]
		}
		isWord := c == '_' || (c >= '0' && c <= '9') ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if isWord {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			h := fnv.New32a()
			h.Write([]byte(content[start:i]))
			vec[h.Sum32()%embeddingDim]++
			start = -1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}
