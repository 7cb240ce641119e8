package types

import "time"

// SearchMode selects which retrieval pipeline(s) a query runs through.
type SearchMode string

const (
	// SearchModeKeyword runs only the lexical substring-matching pipeline.
	SearchModeKeyword SearchMode = "keyword"
	// SearchModeVector runs only the embedding-similarity pipeline.
	SearchModeVector SearchMode = "vector"
	// SearchModeHybrid runs both pipelines and fuses their scores. Default.
	SearchModeHybrid SearchMode = "hybrid"
)

// Valid reports whether the mode is one of the three known pipelines.
func (m SearchMode) Valid() bool {
	switch m {
	case SearchModeKeyword, SearchModeVector, SearchModeHybrid:
		return true
	}
	return false
}

// SearchType tags a result with the pipeline that produced it. A result is
// tagged SearchTypeHybrid only when it appeared in both sub-searches and its
// scores were fused.
type SearchType string

const (
	SearchTypeKeyword SearchType = "keyword"
	SearchTypeVector  SearchType = "vector"
	SearchTypeHybrid  SearchType = "hybrid"
)

// ScoreDetails keeps the per-signal sub-scores of a result for
// explainability and testing.
type ScoreDetails struct {
	// KeywordScore is the lexical path's native score (importance-derived),
	// zero when the result never appeared in the keyword path.
	KeywordScore float64 `json:"keyword_score"`

	// VectorScore is the cosine similarity from the vector path, zero when
	// the result never appeared in the vector path.
	VectorScore float64 `json:"vector_score"`

	// RawScore is the unclamped weighted sum. When the configured weights
	// sum to more than 1 this can exceed 1.0; RelevanceScore is clamped for
	// the [0,1] contract but the raw value is preserved here.
	RawScore float64 `json:"raw_score"`
}

// SearchResult is produced per query and never persisted.
type SearchResult struct {
	// MemoryID identifies the matched record in the store that produced it.
	// IDs from the lexical and vector stores are independent sequences; use
	// Content for cross-store identity.
	MemoryID int64 `json:"memory_id"`

	Content    string    `json:"content"`
	Category   Category  `json:"category"`
	Importance int       `json:"importance,omitempty"` // zero for vector-only hits
	CreatedAt  time.Time `json:"created_at"`

	// RelevanceScore is the final ranking score clamped to [0,1].
	RelevanceScore float64 `json:"relevance_score"`

	SearchType SearchType   `json:"search_type"`
	Details    ScoreDetails `json:"details"`
}
