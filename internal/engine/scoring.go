package engine

import "github.com/mnema-ai/mnema/pkg/types"

// keywordScore maps a record's importance onto the [0,1] scale shared with
// cosine similarity. Importance is an integer 1..10, so the lexical path
// yields at most ten distinct score levels.
func keywordScore(importance int) float64 {
	if importance < types.MinImportance {
		importance = types.MinImportance
	}
	if importance > types.MaxImportance {
		importance = types.MaxImportance
	}
	return float64(importance) / float64(types.MaxImportance)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
