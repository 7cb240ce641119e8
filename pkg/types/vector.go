package types

import (
	"math"
	"time"
)

// VectorRecord is the semantic counterpart of a MemoryRecord, stored and
// lived independently: the lexical and vector stores are not transactionally
// coupled, so a VectorRecord may outlive the MemoryRecord whose content it
// mirrors. It carries its own content copy so search results built from it
// are self-contained.
type VectorRecord struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"user_id"`
	Content   string         `json:"content"`
	Category  Category       `json:"category"`
	Metadata  map[string]any `json:"metadata,omitempty"` // tags/importance/source as an opaque blob
	Embedding []float32      `json:"embedding,omitempty"`
	Norm      float64        `json:"norm"` // cached Euclidean norm of Embedding
	CreatedAt time.Time      `json:"created_at"`
}

// Dimension returns the length of the embedding vector.
func (v *VectorRecord) Dimension() int {
	return len(v.Embedding)
}

// ComputeNorm recalculates and caches the Euclidean norm of the embedding.
// A zero norm means the vector cannot participate in cosine similarity.
func (v *VectorRecord) ComputeNorm() float64 {
	var sum float64
	for _, x := range v.Embedding {
		sum += float64(x) * float64(x)
	}
	v.Norm = math.Sqrt(sum)
	return v.Norm
}

// VectorStats summarizes a user's vector store footprint. The orchestrator
// uses Vectorized to decide whether the vector path is worth invoking at all.
type VectorStats struct {
	Total               int              `json:"total"`                // all records for the user
	Vectorized          int              `json:"vectorized"`           // records carrying a usable embedding
	DimensionMismatches int              `json:"dimension_mismatches"` // excluded from scans, flagged here
	AvgDimension        float64          `json:"avg_dimension"`
	Categories          map[Category]int `json:"categories"`
}

// MemoryStats summarizes a user's lexical store footprint.
type MemoryStats struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"by_category"`
}
